package httpconn

import (
	"bytes"

	"github.com/marmos91/dittohttp/internal/logger"
)

// scanLine advances cur.Checked over buf looking for the end of the current
// line. It is resumable: a call that returns LineOpen leaves the cursor where
// the next call, after more bytes arrive, must pick up.
func scanLine(buf []byte, cur *Cursor) LineStatus {
	for ; cur.Checked < cur.ReadEnd; cur.Checked++ {
		switch buf[cur.Checked] {
		case '\r':
			if cur.Checked+1 == cur.ReadEnd {
				return LineOpen
			}
			if buf[cur.Checked+1] == '\n' {
				cur.Checked += 2
				return LineOK
			}
			return LineBad
		case '\n':
			if cur.Checked > cur.LineStart && buf[cur.Checked-1] == '\r' {
				cur.Checked++
				return LineOK
			}
			return LineBad
		}
	}
	return LineOpen
}

// processRead runs the state machine over every complete line received so
// far and returns the outcome. Incomplete means the connection must wait for
// more bytes; anything else is terminal for this request.
func (c *Conn) processRead() Outcome {
	status := LineOK
	for {
		if c.phase == PhaseBody {
			if c.cur.ReadEnd < c.cur.Checked+c.contentLength {
				status = LineOpen
				break
			}
			c.body = Span{Start: c.cur.Checked, End: c.cur.Checked + c.contentLength}
			c.cur.Checked = c.body.End
			c.cur.LineStart = c.cur.Checked
			return c.resolve()
		}

		if status = scanLine(c.rbuf, &c.cur); status != LineOK {
			break
		}

		// Every LineOK consumed exactly two terminator bytes.
		line := Span{Start: c.cur.LineStart, End: c.cur.Checked - 2}
		c.cur.LineStart = c.cur.Checked

		switch c.phase {
		case PhaseRequestLine:
			if c.parseRequestLine(line) == BadRequest {
				return c.protocolError()
			}
		case PhaseHeaders:
			switch c.parseHeader(line) {
			case BadRequest:
				return c.protocolError()
			case GetRequest:
				return c.resolve()
			}
		}
	}

	if status == LineBad {
		return c.protocolError()
	}
	if c.cur.ReadEnd >= len(c.rbuf) {
		// Buffer full and still no complete request.
		return c.protocolError()
	}
	return Incomplete
}

// protocolError ends the request with a 400 and retires the connection after
// the response is flushed, whatever the client asked for in Connection.
func (c *Conn) protocolError() Outcome {
	c.keepAlive = false
	return BadRequest
}

func (c *Conn) parseRequestLine(line Span) Outcome {
	b := c.rbuf

	sp := indexBlank(b, line.Start, line.End)
	if sp < 0 {
		return BadRequest
	}

	method := b[line.Start:sp]
	switch {
	case equalFold(method, "GET"):
		c.method = MethodGET
	case equalFold(method, "POST"):
		c.method = MethodPOST
		c.cgi = true
	case equalFold(method, "HEAD"):
		c.method = MethodHEAD
	default:
		return BadRequest
	}

	targetStart := skipBlank(b, sp, line.End)
	targetEnd := indexBlank(b, targetStart, line.End)
	if targetEnd < 0 {
		return BadRequest
	}

	c.version = Span{Start: skipBlank(b, targetEnd, line.End), End: line.End}
	if !equalFold(c.version.Bytes(b), "HTTP/1.1") {
		return BadRequest
	}

	target := stripScheme(b, Span{Start: targetStart, End: targetEnd})
	if target.Empty() || b[target.Start] != '/' {
		return BadRequest
	}
	c.target = target
	c.rootSubstituted = target.Len() == 1

	c.phase = PhaseHeaders
	return Incomplete
}

// stripScheme drops an absolute-form "http://authority" or
// "https://authority" prefix, leaving the path. An absolute target without
// a path yields an empty span.
func stripScheme(b []byte, t Span) Span {
	for _, scheme := range [...]string{"http://", "https://"} {
		if !hasPrefixFold(t.Bytes(b), scheme) {
			continue
		}
		rest := t.Start + len(scheme)
		slash := bytes.IndexByte(b[rest:t.End], '/')
		if slash < 0 {
			return Span{Start: t.End, End: t.End}
		}
		return Span{Start: rest + slash, End: t.End}
	}
	return t
}

func (c *Conn) parseHeader(line Span) Outcome {
	if line.Empty() {
		if c.method == MethodHEAD {
			return GetRequest
		}
		if c.contentLength > 0 {
			c.phase = PhaseBody
			return Incomplete
		}
		return GetRequest
	}

	h := line.Bytes(c.rbuf)
	switch {
	case hasPrefixFold(h, "Connection:"):
		if equalFold(trimBlank(h[len("Connection:"):]), "keep-alive") {
			c.keepAlive = true
		}
	case hasPrefixFold(h, "Content-Length:"):
		n, ok := parseDecimal(trimBlank(h[len("Content-Length:"):]))
		if !ok || n > len(c.rbuf) {
			return BadRequest
		}
		c.contentLength = n
	case hasPrefixFold(h, "Host:"):
		start := skipBlank(c.rbuf, line.Start+len("Host:"), line.End)
		c.host = Span{Start: start, End: line.End}
	default:
		if logger.DebugEnabled() {
			logger.Debug("Ignoring header: conn=%s %q", c.id, h)
		}
	}
	return Incomplete
}

func isBlank(ch byte) bool {
	return ch == ' ' || ch == '\t'
}

// indexBlank returns the offset of the first space or tab in b[from:to], or -1.
func indexBlank(b []byte, from, to int) int {
	for i := from; i < to; i++ {
		if isBlank(b[i]) {
			return i
		}
	}
	return -1
}

// skipBlank returns the first offset in b[from:to] that is not a space or tab.
func skipBlank(b []byte, from, to int) int {
	for from < to && isBlank(b[from]) {
		from++
	}
	return from
}

func trimBlank(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isBlank(b[start]) {
		start++
	}
	for end > start && isBlank(b[end-1]) {
		end--
	}
	return b[start:end]
}

func lower(ch byte) byte {
	if 'A' <= ch && ch <= 'Z' {
		return ch + ('a' - 'A')
	}
	return ch
}

// equalFold compares b and s ASCII case-insensitively without allocating.
func equalFold(b []byte, s string) bool {
	return len(b) == len(s) && hasPrefixFold(b, s)
}

func hasPrefixFold(b []byte, prefix string) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if lower(b[i]) != lower(prefix[i]) {
			return false
		}
	}
	return true
}

// parseDecimal accepts only a non-empty run of ASCII digits.
func parseDecimal(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	const maxInt = int(^uint(0) >> 1)
	n := 0
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		d := int(ch - '0')
		if n > (maxInt-d)/10 {
			return 0, false
		}
		n = n*10 + d
	}
	return n, true
}
