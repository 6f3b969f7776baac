//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Interest sets. Connections are edge-triggered and one-shot: after an event
// is delivered the fd stays silent until the owner re-arms it.
const (
	connReadEvents  = unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP | unix.EPOLLONESHOT
	connWriteEvents = unix.EPOLLOUT | unix.EPOLLET | unix.EPOLLRDHUP | unix.EPOLLONESHOT
	listenerEvents  = unix.EPOLLIN | unix.EPOLLET
	wakeEvents      = unix.EPOLLIN

	hangupEvents = unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR
)

// poller wraps an epoll instance and the eventfd used to interrupt its wait
// from other goroutines.
type poller struct {
	epfd   int
	wakeFd int
	events []unix.EpollEvent
}

func newPoller(maxEvents int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	p := &poller{
		epfd:   epfd,
		wakeFd: wakeFd,
		events: make([]unix.EpollEvent, maxEvents),
	}
	if err := p.add(wakeFd, wakeEvents); err != nil {
		_ = p.close()
		return nil, err
	}
	return p, nil
}

func (p *poller) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// mod re-arms a one-shot fd. The kernel re-evaluates readiness, so data
// that arrived while the fd was disarmed still produces an event.
func (p *poller) mod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (p *poller) del(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// wait blocks for readiness. An interrupted wait returns no events and no
// error.
func (p *poller) wait(timeoutMs int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	return p.events[:n], nil
}

// wake makes a concurrent or future wait return.
func (p *poller) wake() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	// EAGAIN means the counter is already non-zero, which wakes just as well.
	_, _ = unix.Write(p.wakeFd, one[:])
}

func (p *poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakeFd, buf[:])
}

func (p *poller) close() error {
	errWake := unix.Close(p.wakeFd)
	errEp := unix.Close(p.epfd)
	if errEp != nil {
		return fmt.Errorf("close epoll: %w", errEp)
	}
	if errWake != nil {
		return fmt.Errorf("close eventfd: %w", errWake)
	}
	return nil
}
