package server

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// String dumps the live state of the loop: virtual hosts, monitored descriptors, pending output and CGI processes.
// It backs the FTFT diagnostic method.
func (s *Server) String() string {
	var b strings.Builder

	b.WriteString("virtual hosts:\n")
	for _, vh := range s.table.Hosts() {
		fmt.Fprintf(&b, "\t%s\n", vh)
		for _, loc := range vh.Locations {
			fmt.Fprintf(&b, "\t\t%s\n", loc)
		}
	}

	b.WriteString("monitored:\n")
	for _, fd := range s.poll.Fds() {
		ev, _ := s.poll.Interest(fd)
		fmt.Fprintf(&b, "\t%d %s %s\n", fd, s.describe(fd), ev)
	}

	b.WriteString("pending writes:\n")
	fds := lo.Keys(s.pending)
	slices.Sort(fds)
	for _, fd := range fds {
		q := s.pending[fd]
		fmt.Fprintf(&b, "\t%d buffered=%d streaming=%t\n", fd, q.buffered(), q.stream != nil)
	}

	b.WriteString("cgi processes:\n")
	for _, p := range s.cgis.All() {
		fmt.Fprintf(&b, "\t%s\n", p)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (s *Server) describe(fd int) string {
	if addr, ok := s.listeners[fd]; ok {
		return "listen " + addr.String()
	}
	if c, ok := s.conns[fd]; ok {
		return c.String()
	}
	switch {
	case s.cgis.IsStdout(fd):
		return "cgi stdout"
	case s.cgis.IsStdin(fd):
		return "cgi stdin"
	}
	return "unknown"
}
