package poller

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Poll is the poll(2) backend.
type Poll struct {
	in  interests
	pfd []unix.PollFd
}

// NewPoll creates a poll(2) based poller.
func NewPoll() *Poll {
	return &Poll{in: interests{}}
}

func (p *Poll) Add(fd int, interest Event) error {
	return p.in.add(fd, interest)
}

func (p *Poll) Modify(fd int, interest Event) error {
	return p.in.modify(fd, interest)
}

func (p *Poll) Remove(fd int) error {
	delete(p.in, fd)
	return nil
}

func (p *Poll) Interest(fd int) (Event, bool) {
	ev, ok := p.in[fd]
	return ev, ok
}

func (p *Poll) Fds() []int { return p.in.fds() }

func (p *Poll) Close() error {
	p.in = interests{}
	return nil
}

func (p *Poll) Wait(timeout time.Duration) ([]Ready, error) {
	p.pfd = p.pfd[:0]
	for _, fd := range p.in.fds() {
		p.pfd = append(p.pfd, unix.PollFd{Fd: int32(fd), Events: toPoll(p.in[fd])})
	}

	n, err := unix.Poll(p.pfd, int(timeout.Milliseconds()))
	if errors.Is(err, unix.EINTR) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "poll")
	}

	ready := make([]Ready, 0, n)
	for _, pfd := range p.pfd {
		if pfd.Revents != 0 {
			ready = append(ready, Ready{Fd: int(pfd.Fd), Events: fromPoll(pfd.Revents)})
		}
	}
	return ready, nil
}

func toPoll(ev Event) int16 {
	var out int16
	if ev.Has(Readable) {
		out |= unix.POLLIN
	}
	if ev.Has(Writable) {
		out |= unix.POLLOUT
	}
	return out
}

func fromPoll(rev int16) Event {
	var ev Event
	if rev&unix.POLLIN != 0 {
		ev |= Readable
	}
	if rev&unix.POLLOUT != 0 {
		ev |= Writable
	}
	if rev&unix.POLLHUP != 0 {
		ev |= Hangup
	}
	if rev&(unix.POLLERR|unix.POLLNVAL) != 0 {
		ev |= Error
	}
	return ev
}
