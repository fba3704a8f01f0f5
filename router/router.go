// Package router resolves a request to the virtual host and location that serve it.
//
// Routing happens in two stages. The first picks a [VirtualHost] by the local address and port the connection was
// accepted on and by the Host header. The second picks the [Location] of that host whose path is the longest prefix
// of the request path.
package router

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/config"
	"github.com/samber/lo"
)

// VirtualHost is a server block bound to one address and port.
type VirtualHost struct {
	Addr      string
	Port      int
	Names     []string
	Locations []*Location

	Directives config.Directives
}

// Endpoint returns the "addr:port" the host is bound to.
func (vh *VirtualHost) Endpoint() string {
	return net.JoinHostPort(vh.Addr, strconv.Itoa(vh.Port))
}

// Matches reports whether host equals one of the server names, ignoring case.
func (vh *VirtualHost) Matches(host string) bool {
	return lo.ContainsBy(vh.Names, func(name string) bool {
		return name != "" && strings.EqualFold(name, host)
	})
}

// Match returns the location whose path is the longest prefix of p. Of equally long prefixes the first declared
// wins.
func (vh *VirtualHost) Match(p string) (*Location, error) {
	var best *Location
	for _, loc := range vh.Locations {
		if !strings.HasPrefix(p, loc.Path) {
			continue
		}
		if best == nil || len(loc.Path) > len(best.Path) {
			best = loc
		}
	}
	if best == nil {
		return nil, webserv.Errorf(webserv.CodeNotFound, "no location of %s matches %q", vh, p)
	}
	return best, nil
}

func (vh *VirtualHost) String() string {
	name := "_"
	if len(vh.Names) > 0 && vh.Names[0] != "" {
		name = vh.Names[0]
	}
	return fmt.Sprintf("server %s on %s", name, vh.Endpoint())
}

// Table holds every virtual host. It is immutable once built.
type Table struct {
	hosts      []*VirtualHost
	byEndpoint map[string][]*VirtualHost
}

// New builds the routing table from a validated configuration.
func New(cfg *config.Config) *Table {
	t := &Table{byEndpoint: map[string][]*VirtualHost{}}
	for _, srv := range cfg.Servers {
		addr, port := srv.Listen()
		vh := &VirtualHost{
			Addr:       addr,
			Port:       port,
			Names:      srv.Names(),
			Directives: srv.Directives,
			Locations: lo.Map(srv.Locations, func(l config.Location, _ int) *Location {
				return newLocation(l)
			}),
		}
		t.add(vh)
	}
	return t
}

// NewTable builds a table from hosts constructed by hand.
func NewTable(hosts ...*VirtualHost) *Table {
	t := &Table{byEndpoint: map[string][]*VirtualHost{}}
	for _, vh := range hosts {
		t.add(vh)
	}
	return t
}

func (t *Table) add(vh *VirtualHost) {
	t.hosts = append(t.hosts, vh)
	t.byEndpoint[vh.Endpoint()] = append(t.byEndpoint[vh.Endpoint()], vh)
}

// Hosts returns every virtual host in declaration order.
func (t *Table) Hosts() []*VirtualHost { return t.hosts }

// Endpoints returns the distinct "addr:port" pairs to listen on, in declaration order.
func (t *Table) Endpoints() []string {
	return lo.Uniq(lo.Map(t.hosts, func(vh *VirtualHost, _ int) string { return vh.Endpoint() }))
}

// Lookup selects the virtual host for a connection accepted on addr:port carrying the given Host (without port).
// Hosts bound to exactly addr:port are preferred: the first whose name matches, else the first declared. Hosts on
// the wildcard address of the same port are tried last.
func (t *Table) Lookup(addr string, port int, host string) (*VirtualHost, error) {
	for _, a := range lo.Uniq([]string{addr, config.WildcardAddr}) {
		candidates := t.byEndpoint[net.JoinHostPort(a, strconv.Itoa(port))]
		if len(candidates) == 0 {
			continue
		}
		if vh, ok := lo.Find(candidates, func(vh *VirtualHost) bool { return vh.Matches(host) }); ok {
			return vh, nil
		}
		return candidates[0], nil
	}
	return nil, webserv.Errorf(webserv.CodeNotFound, "no server for host %q on %s:%d", host, addr, port)
}

// Route runs both routing stages.
func (t *Table) Route(addr string, port int, host, p string) (*VirtualHost, *Location, error) {
	vh, err := t.Lookup(addr, port, host)
	if err != nil {
		return nil, nil, err
	}
	loc, err := vh.Match(p)
	if err != nil {
		return vh, nil, err
	}
	return vh, loc, nil
}
