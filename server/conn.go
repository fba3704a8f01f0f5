package server

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/advdv/webserv/request"
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Conn is an accepted client socket. It carries at most one request.
type Conn struct {
	Fd     int
	Local  netip.AddrPort
	Remote netip.AddrPort
	Opened time.Time

	asm     *request.Assembler
	handled bool // the request was complete or failed, later input is discarded
	closing bool // the connection is closed once its queue drains
	started bool // response bytes were queued
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn fd=%d local=%s remote=%s handled=%t closing=%t", c.Fd, c.Local, c.Remote, c.handled, c.closing)
}

func sockaddrToAddrPort(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port)), nil
	default:
		return netip.AddrPort{}, errors.Newf("unsupported socket address %T", sa)
	}
}

// listen opens a listening IPv4 socket on addr.
func listen(addr netip.AddrPort) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(err, "socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "bind %s", addr)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "listen %s", addr)
	}
	return fd, nil
}
