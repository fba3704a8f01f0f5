package config

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// WildcardAddr is the address "*" expands to.
const WildcardAddr = "0.0.0.0"

// defaultPort applies to a listen directive that only names an address.
const defaultPort = "8000"

// normalizeListen turns "addr:port", "addr" or "port" into the pair {addr, port}.
func normalizeListen(arg string) (Args, error) {
	var host, port string
	switch {
	case strings.Contains(arg, ":"):
		i := strings.LastIndexByte(arg, ':')
		host, port = arg[:i], arg[i+1:]
	case strings.Contains(arg, "."):
		host, port = arg, defaultPort
	default:
		host, port = "*", arg
	}

	if host == "*" || host == "" {
		host = WildcardAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil, errors.Newf("invalid IPv4 address %q", host)
	}
	if !addr.Is4() {
		return nil, errors.Newf("IPv6 address %q is not supported", host)
	}

	n, err := strconv.Atoi(port)
	switch {
	case err != nil:
		return nil, errors.Newf("invalid port %q", port)
	case n < 1:
		return nil, errors.Newf("port %q is too low", port)
	case n > 65535:
		return nil, errors.Newf("port %q is too high", port)
	}
	return Args{addr.String(), strconv.Itoa(n)}, nil
}

// Listen returns the normalized address and port the server binds to.
func (s Server) Listen() (string, int) {
	args, _ := s.Directives.First("listen")
	if len(args) != 2 {
		return WildcardAddr, 8000
	}
	port, _ := strconv.Atoi(args[1])
	return args[0], port
}

// Names returns the server names, which may include the empty name.
func (s Server) Names() Args {
	args, _ := s.Directives.First("server_name")
	return args
}
