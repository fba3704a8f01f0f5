package cgi

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/advdv/webserv"
	"github.com/cockroachdb/errors"
)

// DefaultContentType is added when a script does not send a Content-Type header.
const DefaultContentType = "text/html"

// SplitHead looks for the end of the script's header section. Both CRLF CRLF and a bare LF LF are accepted,
// whichever comes first.
func SplitHead(buf []byte) (head, body []byte, ok bool) {
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	lf := bytes.Index(buf, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return buf[:crlf], buf[crlf+4:], true
	case lf >= 0:
		return buf[:lf], buf[lf+2:], true
	default:
		return nil, nil, false
	}
}

// BuildHead turns a script header section into a response status line and header section. The status comes from a
// Status header, is 302 when only a Location header is present, and is 200 otherwise.
func BuildHead(head []byte) ([]byte, error) {
	code, reason := webserv.CodeOK, ""
	var (
		lines       []string
		hasType     bool
		hasLocation bool
		hasStatus   bool
	)

	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return nil, errors.Newf("malformed script header %q", line)
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(key) {
		case "status":
			c, r, err := parseStatus(value)
			if err != nil {
				return nil, err
			}
			code, reason, hasStatus = c, r, true
			continue
		case "connection":
			continue
		case "content-type":
			hasType = true
		case "location":
			hasLocation = true
		}
		lines = append(lines, key+": "+value)
	}

	if !hasStatus && hasLocation {
		code = webserv.CodeFound
	}
	if reason == "" {
		reason = webserv.StatusText(code)
	}

	var b bytes.Buffer
	b.WriteString(webserv.Version + " " + strconv.Itoa(int(code)) + " " + reason + "\r\n")
	for _, line := range lines {
		b.WriteString(line + "\r\n")
	}
	if !hasType {
		b.WriteString("Content-Type: " + DefaultContentType + "\r\n")
	}
	b.WriteString("Connection: close\r\n\r\n")
	return b.Bytes(), nil
}

func parseStatus(value string) (webserv.Code, string, error) {
	num, reason, _ := strings.Cut(value, " ")
	n, err := strconv.Atoi(num)
	if err != nil || n < 100 || n > 599 {
		return 0, "", errors.Newf("invalid script status %q", value)
	}
	return webserv.Code(n), strings.TrimSpace(reason), nil
}
