package router

import (
	"path"
	"strconv"
	"strings"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/config"
	"github.com/samber/lo"
)

// DefaultInterpreter runs CGI scripts whose cgi_ext directive names no program.
const DefaultInterpreter = "/usr/bin/python3"

// CGIMapping maps a script extension to the program that runs it.
type CGIMapping struct {
	Ext         string
	Interpreter string
}

// Return is a configured rewrite. Target is kept verbatim, double quotes included.
type Return struct {
	Code   webserv.Code
	Target string
}

// Location is a location block with its directives resolved into typed fields.
type Location struct {
	Path       string
	Root       string
	Alias      string
	HasAlias   bool
	Index      []string
	Autoindex  bool
	MaxBody    int64
	UploadDir  string
	CGIDir     string
	CGI        []CGIMapping
	Methods    []string
	Return     *Return
	ErrorPages map[webserv.Code]string

	Directives config.Directives
}

func newLocation(cl config.Location) *Location {
	d := cl.Directives
	loc := &Location{
		Path:       cl.Path,
		Root:       d.Value("root"),
		Autoindex:  d.Value("autoindex") == "on",
		UploadDir:  d.Value("upload_dir"),
		CGIDir:     d.Value("cgi_dir"),
		ErrorPages: map[webserv.Code]string{},
		Directives: d,
	}

	if alias, ok := d.First("alias"); ok {
		loc.Alias, loc.HasAlias = alias[0], true
	}
	for _, args := range d.All("index") {
		loc.Index = append(loc.Index, args...)
	}
	loc.MaxBody, _ = config.ParseSize(d.Value("client_max_body_size"))

	for _, args := range d.All("cgi_ext") {
		m := CGIMapping{Ext: args[0], Interpreter: DefaultInterpreter}
		if len(args) > 1 {
			m.Interpreter = args[1]
		}
		loc.CGI = append(loc.CGI, m)
	}
	if methods, ok := d.First("limit_except"); ok {
		loc.Methods = methods
	}
	if ret, ok := d.First("return"); ok {
		code, _ := config.ParseStatus(ret[0])
		loc.Return = &Return{Code: code, Target: ret[1]}
	}

	// the first error_page naming a code wins, so walk in declaration order
	for _, args := range d.All("error_page") {
		page := args[len(args)-1]
		for _, c := range args[:len(args)-1] {
			n, _ := strconv.Atoi(c)
			if _, ok := loc.ErrorPages[webserv.Code(n)]; !ok {
				loc.ErrorPages[webserv.Code(n)] = page
			}
		}
	}
	return loc
}

// Allows reports whether method passes the limit_except policy. Without limit_except every method is allowed.
func (l *Location) Allows(method string) bool {
	return l.Methods == nil || lo.Contains(l.Methods, method)
}

// IsCGI reports whether requests for p are handed to a CGI program.
func (l *Location) IsCGI(p string) bool {
	return l.CGIDir != "" && strings.HasPrefix(p, l.CGIDir)
}

// Script splits p into the script part and the trailing path info. The script is the shortest prefix of p, at a
// segment boundary, whose last segment ends in a configured extension. It reports false when no extension matches.
func (l *Location) Script(p string) (script, pathInfo string, m CGIMapping, ok bool) {
	for end := 0; end < len(p); {
		next := strings.IndexByte(p[end+1:], '/')
		if next < 0 {
			next = len(p)
		} else {
			next += end + 1
		}

		seg := p[end:next]
		for _, cm := range l.CGI {
			if len(seg) > len(cm.Ext)+1 && strings.HasSuffix(seg, cm.Ext) {
				return p[:next], p[next:], cm, true
			}
		}
		end = next
	}
	return "", "", CGIMapping{}, false
}

// DiskPath maps a canonical request path to the file system. An alias replaces the matched location prefix,
// otherwise the whole path is appended to root.
func (l *Location) DiskPath(p string) string {
	if l.HasAlias {
		rest := strings.TrimPrefix(p, l.Path)
		if rest != "" && !strings.HasPrefix(rest, "/") && !strings.HasSuffix(l.Alias, "/") {
			rest = "/" + rest
		}
		return l.Alias + rest
	}
	return l.Root + p
}

// UploadPath is where a body uploaded to p is stored.
func (l *Location) UploadPath(p string) string {
	return l.Root + l.UploadDir + "/" + path.Base(p)
}

// ErrorPage returns the configured page for code as a disk path.
func (l *Location) ErrorPage(code webserv.Code) (string, bool) {
	page, ok := l.ErrorPages[code]
	if !ok {
		return "", false
	}
	return l.Root + page, true
}

func (l *Location) String() string {
	return "location " + l.Path
}
