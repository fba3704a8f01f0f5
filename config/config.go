// Package config reads the server configuration into an immutable directive tree.
//
// The file format is a small nginx-like grammar: global ("http") directives, followed by server blocks that hold
// server directives and location blocks. After parsing, missing directives are filled in from defaults and from
// the enclosing scope, and every directive is validated. The resulting [Config] is read-only.
package config

import (
	"sort"

	"github.com/samber/lo"
)

// Args are the arguments of one occurrence of a directive.
type Args []string

// Directives maps a directive name to its occurrences, in the order they were declared.
type Directives map[string][]Args

// Has reports whether the directive occurs at least once.
func (d Directives) Has(name string) bool {
	return len(d[name]) > 0
}

// First returns the arguments of the first occurrence of name.
func (d Directives) First(name string) (Args, bool) {
	all := d[name]
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

// Value returns the first argument of the first occurrence of name, or the empty string.
func (d Directives) Value(name string) string {
	args, ok := d.First(name)
	if !ok || len(args) == 0 {
		return ""
	}
	return args[0]
}

// All returns every occurrence of name.
func (d Directives) All(name string) []Args {
	return d[name]
}

// Names returns the directive names in lexical order.
func (d Directives) Names() []string {
	names := lo.Keys(d)
	sort.Strings(names)
	return names
}

func (d Directives) add(name string, args ...string) {
	d[name] = append(d[name], Args(args))
}

func cloneAll(all []Args) []Args {
	return lo.Map(all, func(a Args, _ int) Args { return append(Args(nil), a...) })
}

// Location is a location block of a server.
type Location struct {
	Path       string
	Directives Directives
}

// Server is a server block. Locations are kept in declaration order, followed by the implicit "/" location.
type Server struct {
	Directives Directives
	Locations  []Location
}

// Config is the fully defaulted and validated configuration.
type Config struct {
	HTTP    Directives
	Servers []Server
}
