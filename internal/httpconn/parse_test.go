package httpconn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConn returns a Conn with no socket, serving a temporary document
// root that contains index.html and judge.html.
func newTestConn(t *testing.T, readSize int) (*Conn, string) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>index</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "judge.html"), []byte("<h1>judge</h1>"), 0o644))

	opts := DefaultOptions(root)
	c := New(make([]byte, readSize), make([]byte, 1024), &opts)
	t.Cleanup(func() { c.releaseMapping() })
	return c, root
}

// feed appends data to the read buffer as if it had been read from the socket.
func feed(t *testing.T, c *Conn, data string) {
	t.Helper()
	require.LessOrEqual(t, c.cur.ReadEnd+len(data), len(c.rbuf), "test data exceeds read buffer")
	copy(c.rbuf[c.cur.ReadEnd:], data)
	c.cur.ReadEnd += len(data)
}

func TestScanLine(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		want        LineStatus
		wantChecked int
	}{
		{"crlf terminated", "GET / HTTP/1.1\r\n", LineOK, 16},
		{"lone cr at end", "GET / HTTP/1.1\r", LineOpen, 14},
		{"no terminator", "GET / HTT", LineOpen, 9},
		{"bare lf", "GET / HTTP/1.1\n", LineBad, 14},
		{"cr followed by other byte", "GET\rX", LineBad, 3},
		{"empty line", "\r\n", LineOK, 2},
		{"empty buffer", "", LineOpen, 0},
		{"stops at first line", "A\r\nB\r\n", LineOK, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := []byte(tt.data)
			cur := Cursor{ReadEnd: len(buf)}

			got := scanLine(buf, &cur)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantChecked, cur.Checked)
			assert.True(t, cur.Valid(len(buf)))
		})
	}
}

func TestScanLine_ResumesAfterOpenCR(t *testing.T) {
	buf := make([]byte, 32)
	n := copy(buf, "Host: a\r")
	cur := Cursor{ReadEnd: n}

	require.Equal(t, LineOpen, scanLine(buf, &cur))
	assert.Equal(t, n-1, cur.Checked, "the lone CR must be rescanned")

	buf[n] = '\n'
	cur.ReadEnd++
	require.Equal(t, LineOK, scanLine(buf, &cur))
	assert.Equal(t, n+1, cur.Checked)
}

func TestScanLine_LFAfterConsumedCR(t *testing.T) {
	buf := []byte("ab\r\n")
	cur := Cursor{ReadEnd: 4, Checked: 3}
	assert.Equal(t, LineOK, scanLine(buf, &cur))
	assert.Equal(t, 4, cur.Checked)
}

func TestCursorValid(t *testing.T) {
	assert.True(t, Cursor{}.Valid(0))
	assert.True(t, Cursor{ReadEnd: 10, Checked: 5, LineStart: 5}.Valid(10))
	assert.False(t, Cursor{ReadEnd: 11}.Valid(10))
	assert.False(t, Cursor{ReadEnd: 4, Checked: 5}.Valid(10))
	assert.False(t, Cursor{ReadEnd: 5, Checked: 2, LineStart: 3}.Valid(10))
	assert.False(t, Cursor{LineStart: -1}.Valid(10))
}

type parsed struct {
	Outcome       Outcome
	Method        Method
	Target        string
	Version       string
	Host          string
	Body          string
	ContentLength int
	KeepAlive     bool
	Path          string
}

func snapshot(c *Conn, outcome Outcome) parsed {
	return parsed{
		Outcome:       outcome,
		Method:        c.method,
		Target:        c.Target(),
		Version:       c.Version(),
		Host:          c.Host(),
		Body:          string(c.Body()),
		ContentLength: c.contentLength,
		KeepAlive:     c.keepAlive,
		Path:          c.path,
	}
}

func TestProcessRead_SegmentIndependence(t *testing.T) {
	requests := map[string]string{
		"get keep-alive": "GET /index.html HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n",
		"post with body": "POST /index.html HTTP/1.1\r\nHost: h\r\nContent-Length: 11\r\n\r\nuser=a&pw=b",
		"absolute form":  "GET http://example.com/index.html HTTP/1.1\r\nUser-Agent: t\r\n\r\n",
		"root":           "GET / HTTP/1.1\r\n\r\n",
	}

	for name, req := range requests {
		t.Run(name, func(t *testing.T) {
			whole, _ := newTestConn(t, 2048)
			feed(t, whole, req)
			outcome := whole.processRead()
			require.Equal(t, FileRequest, outcome)
			want := snapshot(whole, outcome)
			whole.reset()

			for split := 1; split < len(req); split++ {
				c, _ := newTestConn(t, 2048)
				c.opts.DocRoot = whole.opts.DocRoot

				feed(t, c, req[:split])
				require.Equal(t, Incomplete, c.processRead(), "split at %d", split)
				require.True(t, c.cur.Valid(len(c.rbuf)))

				feed(t, c, req[split:])
				outcome := c.processRead()
				assert.Equal(t, want, snapshot(c, outcome), "split at %d", split)
				c.reset()
			}
		})
	}
}

func TestProcessRead_ByteAtATime(t *testing.T) {
	req := "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"
	c, _ := newTestConn(t, 2048)

	for i := 0; i < len(req)-1; i++ {
		feed(t, c, req[i:i+1])
		require.Equal(t, Incomplete, c.processRead(), "after byte %d", i)
	}
	feed(t, c, req[len(req)-1:])
	assert.Equal(t, FileRequest, c.processRead())
	assert.True(t, c.keepAlive)
}

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		want       Outcome
		wantMethod Method
		wantTarget string
	}{
		{"get", "GET /a.html HTTP/1.1", Incomplete, MethodGET, "/a.html"},
		{"lowercase method and version", "get /a.html http/1.1", Incomplete, MethodGET, "/a.html"},
		{"post", "POST /2 HTTP/1.1", Incomplete, MethodPOST, "/2"},
		{"head", "HEAD /a.html HTTP/1.1", Incomplete, MethodHEAD, "/a.html"},
		{"tabs and repeated blanks", "GET \t /a.html \t HTTP/1.1", Incomplete, MethodGET, "/a.html"},
		{"http scheme", "GET http://host:8080/x/y HTTP/1.1", Incomplete, MethodGET, "/x/y"},
		{"https scheme", "GET HTTPS://host/z HTTP/1.1", Incomplete, MethodGET, "/z"},
		{"unknown method", "PUT /a HTTP/1.1", BadRequest, 0, ""},
		{"http/1.0", "GET /a HTTP/1.0", BadRequest, 0, ""},
		{"missing version", "GET /a", BadRequest, 0, ""},
		{"single token", "GET", BadRequest, 0, ""},
		{"relative target", "GET a.html HTTP/1.1", BadRequest, 0, ""},
		{"scheme without path", "GET http://host HTTP/1.1", BadRequest, 0, ""},
		{"trailing blank after version", "GET /a HTTP/1.1 ", BadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestConn(t, 256)
			feed(t, c, tt.line)

			got := c.parseRequestLine(Span{Start: 0, End: len(tt.line)})
			assert.Equal(t, tt.want, got)
			if tt.want == Incomplete {
				assert.Equal(t, tt.wantMethod, c.method)
				assert.Equal(t, tt.wantTarget, c.Target())
				assert.Equal(t, PhaseHeaders, c.phase)
				assert.Equal(t, tt.wantMethod == MethodPOST, c.cgi)
			}
		})
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name          string
		headers       string
		readSize      int
		want          Outcome
		wantKeepAlive bool
		wantLength    int
		wantHost      string
	}{
		{"keep-alive", "Connection: keep-alive\r\n", 256, GetRequest, true, 0, ""},
		{"keep-alive mixed case", "connection:\tKeep-Alive\r\n", 256, GetRequest, true, 0, ""},
		{"connection close", "Connection: close\r\n", 256, GetRequest, false, 0, ""},
		{"host", "Host:   example.org:8080\r\n", 256, GetRequest, false, 0, "example.org:8080"},
		{"unknown header ignored", "X-Trace: 1\r\nAccept: */*\r\n", 256, GetRequest, false, 0, ""},
		{"zero content length", "Content-Length: 0\r\n", 256, GetRequest, false, 0, ""},
		{"malformed content length", "Content-Length: 12a\r\n", 256, BadRequest, false, 0, ""},
		{"negative content length", "Content-Length: -1\r\n", 256, BadRequest, false, 0, ""},
		{"empty content length", "Content-Length:\r\n", 256, BadRequest, false, 0, ""},
		{"content length above buffer", "Content-Length: 257\r\n", 256, BadRequest, false, 0, ""},
		{"content length overflow", "Content-Length: 99999999999999999999999\r\n", 256, BadRequest, false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestConn(t, tt.readSize)
			feed(t, c, "GET /index.html HTTP/1.1\r\n"+tt.headers+"\r\n")

			got := c.processRead()
			if tt.want == GetRequest {
				assert.Equal(t, FileRequest, got, "well-formed request resolves to the file")
			} else {
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.wantKeepAlive, c.keepAlive)
			assert.Equal(t, tt.wantLength, c.contentLength)
			assert.Equal(t, tt.wantHost, c.Host())
		})
	}
}

func TestProcessRead_HeadIgnoresBody(t *testing.T) {
	c, _ := newTestConn(t, 256)
	feed(t, c, "HEAD /index.html HTTP/1.1\r\nContent-Length: 10\r\n\r\n")
	assert.Equal(t, FileRequest, c.processRead())
	assert.Equal(t, MethodHEAD, c.method)
}

func TestProcessRead_BodyWaitsForAllBytes(t *testing.T) {
	c, _ := newTestConn(t, 256)
	feed(t, c, "POST /index.html HTTP/1.1\r\nContent-Length: 6\r\n\r\nabc")
	require.Equal(t, Incomplete, c.processRead())
	assert.Equal(t, PhaseBody, c.phase)

	feed(t, c, "def")
	require.Equal(t, FileRequest, c.processRead())
	assert.Equal(t, "abcdef", string(c.Body()))
}

func TestProcessRead_BareLFIsBadRequest(t *testing.T) {
	c, _ := newTestConn(t, 256)
	feed(t, c, "GET /index.html HTTP/1.1\n\n")
	assert.Equal(t, BadRequest, c.processRead())
	assert.False(t, c.keepAlive)
}

func TestProcessRead_FullBufferIsBadRequest(t *testing.T) {
	c, _ := newTestConn(t, 64)
	feed(t, c, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\nX-Pad: aaaaaaa")
	require.Equal(t, len(c.rbuf), c.cur.ReadEnd)

	assert.Equal(t, BadRequest, c.processRead())
	assert.False(t, c.keepAlive, "an oversized request closes the connection")
}

func TestEqualFoldAndParseDecimal(t *testing.T) {
	assert.True(t, equalFold([]byte("KeEp-AlIvE"), "keep-alive"))
	assert.False(t, equalFold([]byte("keep-alive2"), "keep-alive"))
	assert.True(t, hasPrefixFold([]byte("content-length: 3"), "Content-Length:"))

	n, ok := parseDecimal([]byte("2048"))
	assert.True(t, ok)
	assert.Equal(t, 2048, n)

	_, ok = parseDecimal([]byte("+1"))
	assert.False(t, ok)
}
