package request

import (
	"bytes"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/internal/httppath"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"golang.org/x/net/http/httpguts"
)

const (
	// MaxHeaderBytes bounds the header section, request line included.
	MaxHeaderBytes = 16 << 10

	// DefaultBodyLimit applies when no limit function is set or the request cannot be routed.
	DefaultBodyLimit = 1 << 20
)

var headerEnd = []byte("\r\n\r\n")

// LimitFunc resolves the body size limit for a request whose header section has been parsed.
type LimitFunc func(r *Request) int64

// Assembler turns a stream of byte chunks into one [Request].
type Assembler struct {
	state   State
	err     error
	req     *Request
	limit   LimitFunc
	maxBody int64

	head      []byte
	bytesRead int64
	chunk     chunkReader
}

// NewAssembler creates an assembler. limit may be nil, in which case [DefaultBodyLimit] applies.
func NewAssembler(limit LimitFunc) *Assembler {
	return &Assembler{limit: limit}
}

// State returns the current state.
func (a *Assembler) State() State { return a.state }

// Err returns the error that moved the assembler into the Error state.
func (a *Assembler) Err() error { return a.err }

// Request returns the request parsed so far. It is nil until the header section is complete.
func (a *Assembler) Request() *Request { return a.req }

// BytesRead returns the number of body bytes accepted so far.
func (a *Assembler) BytesRead() int64 { return a.bytesRead }

// Feed consumes p and returns the resulting state. Once a terminal state is reached further input is ignored.
func (a *Assembler) Feed(p []byte) (State, error) {
	if a.state.Terminal() {
		return a.state, a.err
	}

	if a.state == ReadingHeaders {
		rest, done := a.feedHead(p)
		if !done || a.state.Terminal() {
			return a.state, a.err
		}
		p = rest
	}

	if a.state == ReadingBody && len(p) > 0 {
		a.feedBody(p)
	}
	return a.state, a.err
}

func (a *Assembler) fail(err error) {
	a.state, a.err = Error, err
	a.head = nil
}

// feedHead buffers p until the header terminator shows up. It returns the bytes following the terminator.
func (a *Assembler) feedHead(p []byte) ([]byte, bool) {
	// only the tail of the old buffer can complete a terminator split across reads
	from := max(0, len(a.head)-len(headerEnd)+1)
	a.head = append(a.head, p...)

	idx := bytes.Index(a.head[from:], headerEnd)
	if idx < 0 {
		if len(a.head) > MaxHeaderBytes {
			a.fail(webserv.Errorf(webserv.CodeRequestHeaderFieldsTooLarge,
				"header section exceeds %d bytes", MaxHeaderBytes))
		}
		return nil, false
	}
	idx += from

	if idx > MaxHeaderBytes {
		a.fail(webserv.Errorf(webserv.CodeRequestHeaderFieldsTooLarge,
			"header section exceeds %d bytes", MaxHeaderBytes))
		return nil, true
	}

	req, err := parseHead(string(a.head[:idx]))
	rest := a.head[idx+len(headerEnd):]
	a.head = nil
	if err != nil {
		a.fail(err)
		return nil, true
	}
	a.req = req

	if !req.HasBody() {
		a.state = Complete
		return nil, true
	}

	a.maxBody = DefaultBodyLimit
	if a.limit != nil {
		a.maxBody = a.limit(req)
	}
	if req.ContentLength > a.maxBody {
		a.fail(webserv.Errorf(webserv.CodeContentTooLarge,
			"declared content length %d exceeds limit %d", req.ContentLength, a.maxBody))
		return nil, true
	}

	a.state = ReadingBody
	return rest, true
}

func (a *Assembler) feedBody(p []byte) {
	if a.req.Chunked {
		if err := a.chunk.feed(p, a.appendBody); err != nil {
			a.fail(err)
			return
		}
		if a.chunk.done() {
			a.req.ContentLength = a.bytesRead
			a.state = Complete
		}
		return
	}

	remaining := a.req.ContentLength - a.bytesRead
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if err := a.appendBody(p); err != nil {
		a.fail(err)
		return
	}
	if a.bytesRead >= a.req.ContentLength {
		a.state = Complete
	}
}

func (a *Assembler) appendBody(p []byte) error {
	if a.bytesRead+int64(len(p)) > a.maxBody {
		return webserv.Errorf(webserv.CodeContentTooLarge, "body exceeds limit %d", a.maxBody)
	}
	a.req.Body = append(a.req.Body, p...)
	a.bytesRead += int64(len(p))
	return nil
}

// String describes the assembler for diagnostics.
func (a *Assembler) String() string {
	if a.req == nil {
		return fmt.Sprintf("%s buffered=%d", a.state, len(a.head))
	}
	return fmt.Sprintf("%s %s %s body=%d/%d chunked=%t",
		a.state, a.req.Method, a.req.Path, a.bytesRead, a.req.ContentLength, a.req.Chunked)
}

func parseHead(head string) (*Request, error) {
	lines := strings.Split(head, "\r\n")

	req, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, err
	}

	req.Header = make(http.Header, len(lines)-1)
	for _, line := range lines[1:] {
		if err := parseHeaderLine(req.Header, line); err != nil {
			return nil, err
		}
	}

	if !lo.Contains(webserv.Methods, req.Method) {
		return nil, webserv.Errorf(webserv.CodeMethodNotAllowed, "unsupported method %q", req.Method)
	}
	if req.Version != "HTTP/1.1" {
		return nil, webserv.Errorf(webserv.CodeHTTPVersionNotSupported, "unsupported version %q", req.Version)
	}
	if err := parseFraming(req); err != nil {
		return nil, err
	}
	return req, nil
}

func parseRequestLine(line string) (*Request, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || lo.Contains(parts, "") {
		return nil, webserv.Errorf(webserv.CodeBadRequest, "malformed request line %q", line)
	}

	req := &Request{Method: parts[0], Target: parts[1], Version: parts[2]}

	target := req.Target
	if rest, ok := stripAuthority(target); ok {
		target = rest
	}
	if path, query, ok := strings.Cut(target, "?"); ok {
		target, req.RawQuery = path, query
	}
	req.Path = httppath.Canonicalize(target)
	return req, nil
}

// stripAuthority turns an absolute-form target into origin form.
func stripAuthority(target string) (string, bool) {
	for _, scheme := range []string{"http://", "https://"} {
		if rest, ok := strings.CutPrefix(target, scheme); ok {
			if i := strings.IndexAny(rest, "/?"); i >= 0 {
				return rest[i:], true
			}
			return "/", true
		}
	}
	return target, false
}

func parseHeaderLine(h http.Header, line string) error {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return webserv.Errorf(webserv.CodeBadRequest, "malformed header line %q", line)
	}

	key, value, ok := strings.Cut(line, ":")
	if !ok || !httpguts.ValidHeaderFieldName(key) {
		return webserv.Errorf(webserv.CodeBadRequest, "malformed header line %q", line)
	}
	value = strings.Trim(value, " \t")
	if !httpguts.ValidHeaderFieldValue(value) {
		return webserv.Errorf(webserv.CodeBadRequest, "invalid value for header %q", key)
	}

	h.Add(textproto.CanonicalMIMEHeaderKey(key), value)
	return nil
}

func parseFraming(req *Request) error {
	if te := req.Header.Values("Transfer-Encoding"); len(te) > 0 {
		if !httpguts.HeaderValuesContainsToken(te, "chunked") {
			return webserv.Errorf(webserv.CodeNotImplemented, "unsupported transfer encoding %q", strings.Join(te, ", "))
		}
		req.Chunked = true
		req.Header.Del("Content-Length")
	}

	cl := req.Header.Values("Content-Length")
	if len(cl) > 0 {
		if len(lo.Uniq(cl)) > 1 {
			return webserv.Errorf(webserv.CodeBadRequest, "conflicting content lengths %v", cl)
		}
		n, err := parseContentLength(cl[0])
		if err != nil {
			return webserv.NewError(webserv.CodeBadRequest, err)
		}
		req.ContentLength = n
	}

	if req.Method == "POST" && !req.Chunked && len(cl) == 0 {
		return webserv.Errorf(webserv.CodeBadRequest, "POST without content length or chunked transfer encoding")
	}
	return nil
}

func parseContentLength(s string) (int64, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, errors.Newf("invalid content length %q", s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid content length %q", s)
	}
	return n, nil
}
