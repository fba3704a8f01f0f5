package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// LoadJSON reads a configuration expressed as JSON. See [ParseJSON] for the layout.
func LoadJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}

	cfg, err := ParseJSON(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}
	return cfg, nil
}

// ParseJSON parses the JSON form of the configuration:
//
//	{
//	  "http": {"root": "/srv/www", "index": ["index.html", "index.htm"]},
//	  "servers": [{
//	    "directives": {"listen": "127.0.0.1:8080", "error_page": [["404", "/404.html"], ["500", "/500.html"]]},
//	    "locations": [{"path": "/cgi-bin", "directives": {"cgi_dir": "/cgi-bin", "cgi_ext": [".py"]}}]
//	  }]
//	}
//
// A directive value is either a string (one occurrence, one argument), an array of strings (one occurrence) or an
// array of arrays of strings (several occurrences). Defaults and validation are the same as for [Parse].
func ParseJSON(data []byte) (*Config, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(data)

	cfg := &Config{}
	var err error
	if cfg.HTTP, err = jsonDirectives("http", root.Get("http")); err != nil {
		return nil, err
	}

	for i, s := range root.Get("servers").Array() {
		var srv Server
		if srv.Directives, err = jsonDirectives("servers."+strconv.Itoa(i), s.Get("directives")); err != nil {
			return nil, err
		}
		for j, l := range s.Get("locations").Array() {
			path := l.Get("path")
			if path.Type != gjson.String {
				return nil, errors.Newf("servers.%d.locations.%d: missing path", i, j)
			}
			loc := Location{Path: path.String()}
			if loc.Directives, err = jsonDirectives("servers."+strconv.Itoa(i)+".locations."+strconv.Itoa(j), l.Get("directives")); err != nil {
				return nil, err
			}
			srv.Locations = append(srv.Locations, loc)
		}
		cfg.Servers = append(cfg.Servers, srv)
	}

	return finish(cfg)
}

func jsonDirectives(at string, obj gjson.Result) (Directives, error) {
	d := Directives{}
	if !obj.Exists() {
		return d, nil
	}
	if !obj.IsObject() {
		return nil, errors.Newf("%s: expected an object of directives", at)
	}

	var err error
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		switch {
		case value.Type == gjson.String || value.Type == gjson.Number || value.IsBool():
			d.add(name, value.String())
		case value.IsArray() && allArrays(value):
			for _, occ := range value.Array() {
				d.add(name, stringArgs(occ)...)
			}
		case value.IsArray():
			d.add(name, stringArgs(value)...)
		default:
			err = errors.Newf("%s.%s: unsupported value %s", at, name, value.Raw)
			return false
		}
		return true
	})
	return d, err
}

func allArrays(v gjson.Result) bool {
	arr := v.Array()
	if len(arr) == 0 {
		return false
	}
	for _, e := range arr {
		if !e.IsArray() {
			return false
		}
	}
	return true
}

func stringArgs(v gjson.Result) []string {
	arr := v.Array()
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		out = append(out, e.String())
	}
	return out
}
