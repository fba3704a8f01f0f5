package cgi

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/request"
)

// ServerSoftware is reported to scripts in SERVER_SOFTWARE.
const ServerSoftware = "webserv/1.0"

// Params describe one script invocation.
type Params struct {
	Request    *request.Request
	ScriptName string
	ScriptFile string
	PathInfo   string
	ServerName string
	ServerPort int
	RemoteAddr string
}

// Env builds the CGI/1.1 environment for p, sorted by name. Request headers are exported as HTTP_* variables.
func Env(p Params) []string {
	r := p.Request
	env := map[string]string{
		"GATEWAY_INTERFACE": "CGI/1.1",
		"SERVER_PROTOCOL":   webserv.Version,
		"SERVER_SOFTWARE":   ServerSoftware,
		"SERVER_NAME":       p.ServerName,
		"SERVER_PORT":       strconv.Itoa(p.ServerPort),
		"REQUEST_METHOD":    r.Method,
		"SCRIPT_FILENAME":   p.ScriptFile,
		"SCRIPT_NAME":       p.ScriptName,
		"QUERY_STRING":      r.RawQuery,
		"PATH_INFO":         p.PathInfo,
		"REMOTE_ADDR":       p.RemoteAddr,
		"REDIRECT_STATUS":   "200",
		"PATH":              os.Getenv("PATH"),
	}

	for key, values := range r.Header {
		name := "HTTP_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		env[name] = strings.Join(values, ", ")
	}

	if r.HasBody() {
		env["CONTENT_LENGTH"] = strconv.Itoa(len(r.Body))
		if ct := r.Header.Get("Content-Type"); ct != "" {
			env["CONTENT_TYPE"] = ct
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
