// Package poller waits for readiness on a set of file descriptors.
//
// Two backends exist: poll(2), which is the default, and epoll(7) on Linux. Both keep the registered interest per
// descriptor so the server can toggle write interest without tracking it itself.
package poller

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Event is a set of readiness conditions.
type Event uint32

const (
	Readable Event = 1 << iota
	Writable
	Hangup
	Error
)

// Has reports whether all of o are set in e.
func (e Event) Has(o Event) bool { return e&o == o }

// Any reports whether at least one of o is set in e.
func (e Event) Any(o Event) bool { return e&o != 0 }

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	names := []string{}
	for _, n := range []struct {
		ev   Event
		name string
	}{{Readable, "read"}, {Writable, "write"}, {Hangup, "hup"}, {Error, "err"}} {
		if e.Has(n.ev) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// Ready is one descriptor reported by Wait.
type Ready struct {
	Fd     int
	Events Event
}

// Poller is a readiness multiplexer.
type Poller interface {
	// Add starts monitoring fd for interest.
	Add(fd int, interest Event) error
	// Modify replaces the interest of a monitored fd.
	Modify(fd int, interest Event) error
	// Remove stops monitoring fd. Removing an unknown fd is not an error.
	Remove(fd int) error
	// Wait blocks until at least one fd is ready or timeout passes. An interrupted wait returns no events.
	Wait(timeout time.Duration) ([]Ready, error)
	// Interest returns the registered interest of fd.
	Interest(fd int) (Event, bool)
	// Fds returns the monitored descriptors in ascending order.
	Fds() []int
	// Close releases the poller. Monitored descriptors are not closed.
	Close() error
}

// Backend names accepted by New.
const (
	BackendPoll  = "poll"
	BackendEpoll = "epoll"
)

// New creates a poller for the named backend.
func New(backend string) (Poller, error) {
	switch backend {
	case BackendPoll, "":
		return NewPoll(), nil
	case BackendEpoll:
		ep, err := NewEpoll()
		if err != nil {
			return nil, err
		}
		return ep, nil
	default:
		return nil, errors.Newf("unknown multiplexing backend %q, expected %q or %q", backend, BackendPoll, BackendEpoll)
	}
}

// interests is the bookkeeping shared by the backends.
type interests map[int]Event

func (in interests) add(fd int, ev Event) error {
	if _, ok := in[fd]; ok {
		return errors.Newf("fd %d is already monitored", fd)
	}
	in[fd] = ev
	return nil
}

func (in interests) modify(fd int, ev Event) error {
	if _, ok := in[fd]; !ok {
		return errors.Newf("fd %d is not monitored", fd)
	}
	in[fd] = ev
	return nil
}

func (in interests) fds() []int {
	fds := lo.Keys(in)
	sort.Ints(fds)
	return fds
}
