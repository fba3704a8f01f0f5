package poller

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Epoll is the epoll(7) backend.
type Epoll struct {
	fd     int
	in     interests
	events []unix.EpollEvent
}

// NewEpoll creates an epoll(7) based poller.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &Epoll{fd: fd, in: interests{}, events: make([]unix.EpollEvent, 128)}, nil
}

func (e *Epoll) Add(fd int, interest Event) error {
	if err := e.in.add(fd, interest); err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		delete(e.in, fd)
		return errors.Wrapf(err, "epoll_ctl add %d", fd)
	}
	return nil
}

func (e *Epoll) Modify(fd int, interest Event) error {
	if err := e.in.modify(fd, interest); err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	return errors.Wrapf(unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev), "epoll_ctl mod %d", fd)
}

// Remove forgets fd. A descriptor that was already closed has left the epoll set on its own.
func (e *Epoll) Remove(fd int) error {
	if _, ok := e.in[fd]; !ok {
		return nil
	}
	delete(e.in, fd)
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return errors.Wrapf(err, "epoll_ctl del %d", fd)
}

func (e *Epoll) Interest(fd int) (Event, bool) {
	ev, ok := e.in[fd]
	return ev, ok
}

func (e *Epoll) Fds() []int { return e.in.fds() }

func (e *Epoll) Wait(timeout time.Duration) ([]Ready, error) {
	n, err := unix.EpollWait(e.fd, e.events, int(timeout.Milliseconds()))
	if errors.Is(err, unix.EINTR) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "epoll_wait")
	}

	ready := make([]Ready, 0, n)
	for _, ev := range e.events[:n] {
		ready = append(ready, Ready{Fd: int(ev.Fd), Events: fromEpoll(ev.Events)})
	}
	return ready, nil
}

func (e *Epoll) Close() error {
	e.in = interests{}
	return errors.Wrap(unix.Close(e.fd), "close epoll")
}

func toEpoll(ev Event) uint32 {
	var out uint32
	if ev.Has(Readable) {
		out |= unix.EPOLLIN
	}
	if ev.Has(Writable) {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpoll(rev uint32) Event {
	var ev Event
	if rev&unix.EPOLLIN != 0 {
		ev |= Readable
	}
	if rev&unix.EPOLLOUT != 0 {
		ev |= Writable
	}
	if rev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= Hangup
	}
	if rev&unix.EPOLLERR != 0 {
		ev |= Error
	}
	return ev
}
