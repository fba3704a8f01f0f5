package config

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/advdv/webserv"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

type checkFunc func(args Args) (Args, error)

type rule struct {
	multi bool
	check checkFunc
}

var (
	commonRules = map[string]rule{
		"autoindex":            {check: checkOnOff},
		"cgi_dir":              {check: checkRooted},
		"cgi_ext":              {multi: true, check: checkCgiExt},
		"client_max_body_size": {check: checkSize},
		"error_page":           {multi: true, check: checkErrorPage},
		"index":                {multi: true, check: checkIndex},
		"root":                 {check: checkRoot},
		"upload_dir":           {check: checkUploadDir},
	}
	serverRules = map[string]rule{
		"listen":      {check: checkListen},
		"server_name": {check: checkServerName},
	}
	locationRules = map[string]rule{
		"alias":        {check: checkRooted},
		"limit_except": {check: checkLimitExcept},
		"return":       {check: checkReturn},
	}
)

func validate(cfg *Config) error {
	if err := validateScope("http", cfg.HTTP, commonRules); err != nil {
		return err
	}

	for i := range cfg.Servers {
		srv := &cfg.Servers[i]
		scope := "server " + strconv.Itoa(i)
		if err := validateScope(scope, srv.Directives, commonRules, serverRules); err != nil {
			return err
		}
		for j := range srv.Locations {
			loc := &srv.Locations[j]
			locScope := scope + " location " + strconv.Quote(loc.Path)
			if !strings.HasPrefix(loc.Path, "/") {
				return errors.Newf("%s: location path must start with '/'", locScope)
			}
			if err := validateScope(locScope, loc.Directives, commonRules, locationRules); err != nil {
				return err
			}
		}
	}

	return validateUniqueness(cfg)
}

func validateScope(scope string, d Directives, ruleSets ...map[string]rule) error {
	for _, name := range d.Names() {
		r, ok := lookupRule(name, ruleSets)
		if !ok {
			return errors.Newf("%s: unknown directive %q", scope, name)
		}
		if !r.multi && len(d[name]) > 1 {
			return errors.Newf("%s: directive %q may only appear once", scope, name)
		}
		for i, args := range d[name] {
			if name != "return" {
				args = unquoteAll(args)
			}
			norm, err := r.check(args)
			if err != nil {
				return errors.Wrapf(err, "%s: directive %q", scope, name)
			}
			d[name][i] = norm
		}
	}
	return nil
}

func lookupRule(name string, ruleSets []map[string]rule) (rule, bool) {
	for _, rs := range ruleSets {
		if r, ok := rs[name]; ok {
			return r, true
		}
	}
	return rule{}, false
}

// validateUniqueness rejects two servers that share a listen address and a non-empty server name.
func validateUniqueness(cfg *Config) error {
	type key struct {
		listen string
		name   string
	}
	seen := map[key]int{}
	for i, srv := range cfg.Servers {
		addr, port := srv.Listen()
		listen := addr + ":" + strconv.Itoa(port)
		for _, name := range lo.Compact(lo.Uniq(srv.Names())) {
			k := key{listen, strings.ToLower(name)}
			if other, ok := seen[k]; ok {
				return errors.Newf("duplicate server_name %q between server %d and server %d (both listening on %s)",
					name, other, i, listen)
			}
			seen[k] = i
		}
	}
	return nil
}

func unquoteAll(args Args) Args {
	return lo.Map(args, func(a string, _ int) string {
		if s, ok := Unquote(a); ok {
			return s
		}
		return a
	})
}

func arity(args Args, minN, maxN int) error {
	if len(args) < minN || (maxN >= 0 && len(args) > maxN) {
		if maxN < 0 {
			return errors.Newf("expected at least %d arguments, got %d", minN, len(args))
		}
		return errors.Newf("expected between %d and %d arguments, got %d", minN, maxN, len(args))
	}
	return nil
}

func checkOnOff(args Args) (Args, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	switch args[0] {
	case "on", "yes", "true":
		return Args{"on"}, nil
	case "off", "no", "false":
		return Args{"off"}, nil
	}
	return nil, errors.Newf("invalid boolean %q", args[0])
}

func checkRooted(args Args) (Args, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(args[0], "/") {
		return nil, errors.Newf("path %q must start with '/'", args[0])
	}
	return args, nil
}

func checkRoot(args Args) (Args, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	if args[0] == "" {
		return nil, errors.New("empty root")
	}
	return args, nil
}

func checkUploadDir(args Args) (Args, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	if args[0] == "" {
		return args, nil
	}
	return checkRooted(args)
}

func checkIndex(args Args) (Args, error) {
	if err := arity(args, 1, -1); err != nil {
		return nil, err
	}
	if lo.Contains(args, "") {
		return nil, errors.New("empty index file name")
	}
	return args, nil
}

func checkSize(args Args) (Args, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	if _, err := ParseSize(args[0]); err != nil {
		return nil, err
	}
	return args, nil
}

func checkCgiExt(args Args) (Args, error) {
	if err := arity(args, 1, 2); err != nil {
		return nil, err
	}
	if args[0] == "" {
		return nil, errors.New("empty extension")
	}
	if len(args) == 2 {
		if _, err := checkRooted(args[1:]); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func checkErrorPage(args Args) (Args, error) {
	if err := arity(args, 2, -1); err != nil {
		return nil, err
	}
	for _, code := range args[:len(args)-1] {
		if _, err := ParseStatus(code); err != nil {
			return nil, err
		}
	}
	if _, err := checkRooted(args[len(args)-1:]); err != nil {
		return nil, err
	}
	return args, nil
}

func checkListen(args Args) (Args, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	return normalizeListen(args[0])
}

func checkServerName(args Args) (Args, error) {
	if err := arity(args, 1, -1); err != nil {
		return nil, err
	}
	return args, nil
}

func checkLimitExcept(args Args) (Args, error) {
	if err := arity(args, 1, -1); err != nil {
		return nil, err
	}
	for _, m := range args {
		if !lo.Contains(webserv.Methods, m) {
			return nil, errors.Newf("invalid method %q, expected one of %v", m, webserv.Methods)
		}
	}
	return args, nil
}

func checkReturn(args Args) (Args, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	if _, err := ParseStatus(args[0]); err != nil {
		return nil, err
	}

	target := args[1]
	switch {
	case target == "":
		return nil, errors.New("empty return target")
	case strings.HasPrefix(target, `"`):
		if !IsQuoted(target) {
			return nil, errors.Newf("invalid double-quoted string %s", target)
		}
	default:
		if !IsHTTPURL(target) {
			return nil, errors.Newf("invalid http uri %q", target)
		}
	}
	return args, nil
}

// ParseStatus parses a response status code that the server knows a reason phrase for.
func ParseStatus(s string) (webserv.Code, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 100 || n > 599 || webserv.StatusText(webserv.Code(n)) == "" {
		return 0, errors.Newf("invalid status code %q", s)
	}
	return webserv.Code(n), nil
}

// IsHTTPURL reports whether s is an absolute http or https URL with a host.
func IsHTTPURL(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != ""
}
