//go:build !linux

package poller

import "github.com/cockroachdb/errors"

// NewEpoll is only available on Linux.
func NewEpoll() (Poller, error) {
	return nil, errors.New("epoll is only available on linux")
}
