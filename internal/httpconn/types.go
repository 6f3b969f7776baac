package httpconn

// Phase is the section of the request the parser is currently consuming.
type Phase int

const (
	PhaseRequestLine Phase = iota
	PhaseHeaders
	PhaseBody
)

func (p Phase) String() string {
	switch p {
	case PhaseRequestLine:
		return "REQUEST_LINE"
	case PhaseHeaders:
		return "HEADERS"
	case PhaseBody:
		return "BODY"
	default:
		return "UNKNOWN"
	}
}

// Method is a recognized request method.
type Method int

const (
	MethodGET Method = iota
	MethodPOST
	MethodHEAD
)

func (m Method) String() string {
	switch m {
	case MethodGET:
		return "GET"
	case MethodPOST:
		return "POST"
	case MethodHEAD:
		return "HEAD"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the result of running the parser over the bytes received so far.
type Outcome int

const (
	// Incomplete means more bytes are needed.
	Incomplete Outcome = iota
	// GetRequest is a well-formed request that has not been resolved yet.
	GetRequest
	BadRequest
	NoResource
	ForbiddenRequest
	// FileRequest means the target was mapped and is ready to send.
	FileRequest
	InternalError
)

func (o Outcome) String() string {
	switch o {
	case Incomplete:
		return "NO_REQUEST"
	case GetRequest:
		return "GET_REQUEST"
	case BadRequest:
		return "BAD_REQUEST"
	case NoResource:
		return "NO_RESOURCE"
	case ForbiddenRequest:
		return "FORBIDDEN_REQUEST"
	case FileRequest:
		return "FILE_REQUEST"
	case InternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// LineStatus is the tokenizer's verdict on the current line.
type LineStatus int

const (
	LineOK LineStatus = iota
	LineBad
	LineOpen
)

func (s LineStatus) String() string {
	switch s {
	case LineOK:
		return "LINE_OK"
	case LineBad:
		return "LINE_BAD"
	case LineOpen:
		return "LINE_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Cursor tracks parsing progress inside the read buffer.
//
//   - ReadEnd: one past the last byte received
//   - Checked: one past the last byte examined by the tokenizer
//   - LineStart: offset where the line being tokenized begins
type Cursor struct {
	ReadEnd   int
	Checked   int
	LineStart int
}

// Valid reports whether 0 <= LineStart <= Checked <= ReadEnd <= capacity.
func (c Cursor) Valid(capacity int) bool {
	return 0 <= c.LineStart &&
		c.LineStart <= c.Checked &&
		c.Checked <= c.ReadEnd &&
		c.ReadEnd <= capacity
}

// Span is a half-open byte range [Start, End) of the read buffer.
type Span struct {
	Start int
	End   int
}

func (s Span) Len() int {
	return s.End - s.Start
}

func (s Span) Empty() bool {
	return s.End <= s.Start
}

// Bytes returns the bytes of buf covered by s. The result aliases buf and is
// only meaningful until the connection is reset.
func (s Span) Bytes(buf []byte) []byte {
	if s.Empty() {
		return nil
	}
	return buf[s.Start:s.End]
}

// Next tells the reactor what to do with a connection after Process.
type Next int

const (
	// NextRead re-arms the connection for read readiness.
	NextRead Next = iota
	// NextWrite means a response is assembled and must be written.
	NextWrite
	// NextClose retires the connection.
	NextClose
)

func (n Next) String() string {
	switch n {
	case NextRead:
		return "read"
	case NextWrite:
		return "write"
	case NextClose:
		return "close"
	default:
		return "unknown"
	}
}

// WriteResult is the state of a connection after a write attempt.
type WriteResult int

const (
	// WriteBlocked means the socket buffer is full; re-arm for write readiness.
	WriteBlocked WriteResult = iota
	// WriteKeepAlive means the response was flushed and the connection was
	// reset for the next request.
	WriteKeepAlive
	// WriteClosed means the connection must be retired.
	WriteClosed
)

func (r WriteResult) String() string {
	switch r {
	case WriteBlocked:
		return "blocked"
	case WriteKeepAlive:
		return "keep-alive"
	case WriteClosed:
		return "closed"
	default:
		return "unknown"
	}
}
