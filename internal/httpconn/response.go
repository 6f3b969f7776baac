package httpconn

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	reasonOK            = "OK"
	reasonBadRequest    = "Bad Request"
	reasonForbidden     = "Forbidden"
	reasonNotFound      = "Not Found"
	reasonInternalError = "Internal Error"

	bodyBadRequest    = "Your request has bad syntax or is inherently impossible to satisfy. \n"
	bodyForbidden     = "You do not have permission to get file from this server. \n"
	bodyNotFound      = "The requested file was not found on this server. \n"
	bodyInternalError = "There was an unusual problem serving the requested file. \n"

	// Sent for zero-size files, which cannot be mapped.
	bodyEmptyFile = "<html><body></body></html>"
)

// appendf formats into the unused tail of the header buffer. It refuses,
// leaving the buffer untouched, if the result would not fit.
func (c *Conn) appendf(format string, args ...any) bool {
	tail := c.wbuf[c.wlen:c.wlen]
	out := fmt.Appendf(tail, format, args...)
	if len(out) > cap(tail) {
		return false
	}
	c.wlen += len(out)
	return true
}

func (c *Conn) addStatusLine(code int, reason string) bool {
	c.status = code
	return c.appendf("HTTP/1.1 %d %s\r\n", code, reason)
}

func (c *Conn) addHeaders(contentLength int64) bool {
	connection := "close"
	if c.keepAlive {
		connection = "keep-alive"
	}
	return c.appendf("Content-Length: %d\r\n", contentLength) &&
		c.appendf("Connection: %s\r\n", connection) &&
		c.appendf("\r\n")
}

// processWrite assembles the response for outcome. It returns false if the
// outcome cannot be answered or the header buffer overflowed; the caller then
// closes the connection.
func (c *Conn) processWrite(outcome Outcome) bool {
	var (
		code   int
		reason string
		body   string
	)

	switch outcome {
	case InternalError:
		code, reason, body = 500, reasonInternalError, bodyInternalError
	case BadRequest:
		code, reason, body = 400, reasonBadRequest, bodyBadRequest
	case ForbiddenRequest:
		code, reason, body = 403, reasonForbidden, bodyForbidden
	case NoResource:
		code, reason, body = 404, reasonNotFound, bodyNotFound
	case FileRequest:
		code, reason = 200, reasonOK
		if size := c.mapping.Size(); size > 0 {
			if !c.addStatusLine(code, reason) || !c.addHeaders(size) {
				return false
			}
			c.headerLen = c.wlen
			c.iov[0] = c.wbuf[:c.wlen]
			c.iovCount = 1
			c.bytesToSend = c.wlen
			if c.method != MethodHEAD {
				c.fileBody = c.mapping.Bytes()
				c.iov[1] = c.fileBody
				c.iovCount = 2
				c.bytesToSend += len(c.fileBody)
			} else {
				c.releaseMapping()
			}
			return true
		}
		body = bodyEmptyFile
		c.releaseMapping()
	default:
		return false
	}

	if !c.addStatusLine(code, reason) || !c.addHeaders(int64(len(body))) {
		return false
	}
	if c.method != MethodHEAD && !c.appendf("%s", body) {
		return false
	}

	c.headerLen = c.wlen
	c.iov[0] = c.wbuf[:c.wlen]
	c.iovCount = 1
	c.bytesToSend = c.wlen
	return true
}

// Write sends as much of the assembled response as the socket accepts.
//
// Returns:
//   - WriteBlocked: the kernel buffer is full; call again on write readiness
//   - WriteKeepAlive: response flushed, connection reset for the next request
//   - WriteClosed: response flushed without keep-alive, or a hard error
//     (returned alongside)
//
// The file mapping is released on every path except WriteBlocked.
func (c *Conn) Write() (WriteResult, error) {
	if c.bytesToSend == 0 {
		c.releaseMapping()
		if c.keepAlive {
			c.reset()
			return WriteKeepAlive, nil
		}
		return WriteClosed, nil
	}

	for {
		n, err := unix.Writev(c.fd, c.segments())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return WriteBlocked, nil
			}
			c.releaseMapping()
			return WriteClosed, fmt.Errorf("writev fd=%d: %w", c.fd, err)
		}

		c.advance(n)
		if c.bytesToSend > 0 {
			continue
		}

		c.releaseMapping()
		if c.keepAlive {
			c.reset()
			return WriteKeepAlive, nil
		}
		return WriteClosed, nil
	}
}

// segments returns the non-empty iovecs still to be sent.
func (c *Conn) segments() [][]byte {
	segs := c.segBuf[:0]
	for i := 0; i < c.iovCount; i++ {
		if len(c.iov[i]) > 0 {
			segs = append(segs, c.iov[i])
		}
	}
	return segs
}

// advance moves the scatter-gather descriptor past n written bytes.
func (c *Conn) advance(n int) {
	c.bytesSent += n
	c.bytesToSend -= n

	if c.bytesSent >= c.headerLen {
		c.iov[0] = nil
		if c.iovCount == 2 {
			c.iov[1] = c.fileBody[c.bytesSent-c.headerLen:]
		}
		return
	}
	c.iov[0] = c.wbuf[c.bytesSent:c.headerLen]
}
