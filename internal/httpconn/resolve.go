package httpconn

import (
	"bytes"
	"fmt"
	"path"

	"golang.org/x/sys/unix"

	"github.com/marmos91/dittohttp/internal/logger"
)

// CGIHandler serves POST requests whose last path element is a single action
// character: '2' for login, '3' for registration.
//
// Handle receives the action and the request body and returns the document
// (rooted at the document root, starting with '/') to send back. An empty
// document falls through to plain file resolution; an error yields a 500.
type CGIHandler interface {
	Handle(action byte, body []byte) (document string, err error)
}

// Mapping is a read-only private memory map of a served file.
//
// A Mapping belongs to exactly one connection and lives only while the
// response that references it is in flight.
type Mapping struct {
	data []byte
	size int64
}

// mapFile maps path read-only. Zero-size files produce a Mapping with no
// data, since the kernel refuses empty maps.
func mapFile(path string) (*Mapping, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("fstat %s: %w", path, err)
	}

	m := &Mapping{size: st.Size}
	if st.Size == 0 {
		return m, nil
	}

	m.data, err = unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return m, nil
}

// Bytes returns the mapped file contents. Nil after Release.
func (m *Mapping) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Size is the file size observed when the mapping was created.
func (m *Mapping) Size() int64 {
	if m == nil {
		return 0
	}
	return m.size
}

// Release unmaps the file. Safe to call more than once.
func (m *Mapping) Release() error {
	if m == nil || m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// resolve maps the parsed target onto the document root and classifies it.
func (c *Conn) resolve() Outcome {
	rel, outcome := c.documentPath()
	if outcome != GetRequest {
		return outcome
	}
	if c.opts.SanitizePaths {
		rel = path.Clean(rel)
	}
	full := c.opts.DocRoot + rel
	c.path = full

	var st unix.Stat_t
	if err := unix.Stat(full, &st); err != nil {
		return NoResource
	}
	if st.Mode&unix.S_IROTH == 0 {
		return ForbiddenRequest
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return BadRequest
	}

	m, err := mapFile(full)
	if err != nil {
		logger.Warn("Failed to map %s for conn=%s: %v", full, c.id, err)
		return InternalError
	}
	c.mapping = m
	return FileRequest
}

// documentPath returns the target relative to the document root, after
// default-document substitution, placeholder documents and the CGI hook.
func (c *Conn) documentPath() (string, Outcome) {
	if c.rootSubstituted {
		return "/" + c.opts.DefaultDocument, GetRequest
	}

	target := c.target.Bytes(c.rbuf)
	last := target[bytes.LastIndexByte(target, '/')+1:]

	if len(last) == 1 {
		switch action := last[0]; {
		case action == '0':
			return "/" + c.opts.RegisterDocument, GetRequest
		case action == '1':
			return "/" + c.opts.LoginDocument, GetRequest
		case c.cgi && (action == '2' || action == '3') && c.opts.CGI != nil:
			doc, err := c.opts.CGI.Handle(action, c.body.Bytes(c.rbuf))
			if err != nil {
				logger.Warn("CGI action %q failed for conn=%s: %v", action, c.id, err)
				return "", InternalError
			}
			if doc != "" {
				return doc, GetRequest
			}
		}
	}

	return string(target), GetRequest
}
