// Package httpconn implements the per-connection HTTP/1.1 state machine:
// incremental request parsing over a fixed read buffer, resolution of the
// target against a document root, response assembly into a fixed header
// buffer plus an optional memory-mapped file, and resumable scatter-gather
// writes.
//
// A Conn is not safe for concurrent use. The reactor guarantees that at most
// one goroutine owns a Conn at any instant: either the reactor itself (read
// and write) or a single worker (Process).
package httpconn

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/marmos91/dittohttp/internal/logger"
)

// ErrPeerClosed is returned by Read when the peer shut down its side.
var ErrPeerClosed = errors.New("httpconn: connection closed by peer")

// Options is the server-wide context shared by every connection.
type Options struct {
	// DocRoot is prepended to every resolved target. No trailing slash.
	DocRoot string

	// DefaultDocument is served for a target of exactly "/".
	DefaultDocument string

	// RegisterDocument and LoginDocument are the placeholder documents for
	// targets whose last path element is "0" and "1".
	RegisterDocument string
	LoginDocument    string

	// SanitizePaths cleans the target before joining it to DocRoot so that
	// ".." elements cannot climb above the root.
	SanitizePaths bool

	// CGI handles POST actions "2" and "3". Nil falls through to files.
	CGI CGIHandler
}

// DefaultOptions returns Options serving docRoot with the stock documents.
func DefaultOptions(docRoot string) Options {
	return Options{
		DocRoot:          docRoot,
		DefaultDocument:  "judge.html",
		RegisterDocument: "register.html",
		LoginDocument:    "log.html",
		SanitizePaths:    true,
	}
}

// Conn is the state of one client connection. Conns are allocated once per
// connection-table slot and reused across accepts.
type Conn struct {
	opts *Options

	fd   int
	peer string
	id   uuid.UUID

	// read state
	rbuf []byte
	cur  Cursor

	// parse state
	phase           Phase
	method          Method
	target          Span
	version         Span
	host            Span
	body            Span
	contentLength   int
	keepAlive       bool
	cgi             bool
	rootSubstituted bool
	path            string
	outcome         Outcome

	// write state
	wbuf        []byte
	wlen        int
	headerLen   int
	status      int
	iov         [2][]byte
	iovCount    int
	segBuf      [2][]byte
	fileBody    []byte
	bytesToSend int
	bytesSent   int

	mapping *Mapping
}

// New returns an idle Conn using readBuf and writeBuf as its fixed buffers.
// The buffers' capacities bound the request size and the response header
// size respectively.
func New(readBuf, writeBuf []byte, opts *Options) *Conn {
	return &Conn{
		opts: opts,
		fd:   -1,
		rbuf: readBuf[:cap(readBuf)],
		wbuf: writeBuf[:0:cap(writeBuf)],
	}
}

// Init binds the Conn to a freshly accepted socket.
func (c *Conn) Init(fd int, peer string, id uuid.UUID) {
	c.fd = fd
	c.peer = peer
	c.id = id
	c.reset()
}

// reset clears all per-request state, keeping the socket. Bytes received
// beyond the previous request are discarded.
func (c *Conn) reset() {
	c.releaseMapping()
	c.cur = Cursor{}
	c.phase = PhaseRequestLine
	c.method = MethodGET
	c.target = Span{}
	c.version = Span{}
	c.host = Span{}
	c.body = Span{}
	c.contentLength = 0
	c.keepAlive = false
	c.cgi = false
	c.rootSubstituted = false
	c.path = ""
	c.outcome = Incomplete

	c.wlen = 0
	c.headerLen = 0
	c.status = 0
	c.iov = [2][]byte{}
	c.iovCount = 0
	c.segBuf = [2][]byte{}
	c.fileBody = nil
	c.bytesToSend = 0
	c.bytesSent = 0
}

// Read drains the socket into the read buffer until the kernel reports it
// would block or the buffer is full.
//
// Returns the number of bytes read and:
//   - nil on success (including would-block and a full buffer)
//   - ErrPeerClosed on a zero-length read
//   - the wrapped errno on any other failure
func (c *Conn) Read() (int, error) {
	total := 0
	for c.cur.ReadEnd < len(c.rbuf) {
		n, err := unix.Read(c.fd, c.rbuf[c.cur.ReadEnd:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				break
			}
			return total, fmt.Errorf("read fd=%d: %w", c.fd, err)
		}
		if n == 0 {
			return total, ErrPeerClosed
		}
		c.cur.ReadEnd += n
		total += n
	}
	return total, nil
}

// Process parses what has been read and, once a request is complete,
// resolves it and assembles the response. It performs no socket I/O.
func (c *Conn) Process() Next {
	c.outcome = c.processRead()
	if c.outcome == Incomplete {
		return NextRead
	}

	if logger.DebugEnabled() {
		logger.Debug("Request: conn=%s peer=%s method=%s target=%q outcome=%s",
			c.id, c.peer, c.method, c.target.Bytes(c.rbuf), c.outcome)
	}

	if !c.processWrite(c.outcome) {
		logger.Warn("Cannot assemble response for conn=%s outcome=%s", c.id, c.outcome)
		c.releaseMapping()
		return NextClose
	}
	return NextWrite
}

// Close releases the mapping and closes the socket.
func (c *Conn) Close() error {
	c.releaseMapping()
	if c.fd < 0 {
		return nil
	}
	fd := c.fd
	c.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close fd=%d: %w", fd, err)
	}
	return nil
}

func (c *Conn) releaseMapping() {
	if c.mapping == nil {
		return
	}
	if err := c.mapping.Release(); err != nil {
		logger.Warn("Failed to release mapping of %s: %v", c.path, err)
	}
	c.mapping = nil
	c.fileBody = nil
}

func (c *Conn) Fd() int            { return c.fd }
func (c *Conn) Peer() string       { return c.peer }
func (c *Conn) ID() uuid.UUID      { return c.id }
func (c *Conn) Cursor() Cursor     { return c.cur }
func (c *Conn) Phase() Phase       { return c.phase }
func (c *Conn) Method() Method     { return c.method }
func (c *Conn) Outcome() Outcome   { return c.outcome }
func (c *Conn) StatusCode() int    { return c.status }
func (c *Conn) KeepAlive() bool    { return c.keepAlive }
func (c *Conn) ContentLength() int { return c.contentLength }
func (c *Conn) BytesToSend() int   { return c.bytesToSend }
func (c *Conn) BytesSent() int     { return c.bytesSent }

// Target returns the request target after scheme stripping.
func (c *Conn) Target() string { return string(c.target.Bytes(c.rbuf)) }

func (c *Conn) Version() string { return string(c.version.Bytes(c.rbuf)) }

func (c *Conn) Host() string { return string(c.host.Bytes(c.rbuf)) }

// Body aliases the read buffer; copy it to keep it past the next reset.
func (c *Conn) Body() []byte { return c.body.Bytes(c.rbuf) }

// Path returns the filesystem path the last request resolved to.
func (c *Conn) Path() string { return c.path }
