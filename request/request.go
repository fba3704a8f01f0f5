// Package request assembles HTTP/1.1 requests incrementally from the raw bytes read off a client socket.
//
// An [Assembler] is fed whatever a single read returned. It buffers the header section until the blank line,
// parses it, and then collects a Content-Length or chunked body. Its [State] only ever moves forward:
// ReadingHeaders, ReadingBody, then Complete or Error. Errors carry a [webserv.Code] for the error response.
package request

import (
	"fmt"
	"net/http"
)

// State of an assembler.
type State uint8

const (
	ReadingHeaders State = iota
	ReadingBody
	Complete
	Error
)

func (s State) String() string {
	switch s {
	case ReadingHeaders:
		return "ReadingHeaders"
	case ReadingBody:
		return "ReadingBody"
	case Complete:
		return "Complete"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal reports whether no further input can change s.
func (s State) Terminal() bool { return s == Complete || s == Error }

// Request is a parsed request. Path is canonical: percent-decoded, dot segments resolved, always rooted.
type Request struct {
	Method   string
	Target   string
	Path     string
	RawQuery string
	Version  string
	Header   http.Header
	Body     []byte

	ContentLength int64
	Chunked       bool
}

// Host returns the Host header without a port suffix.
func (r *Request) Host() string {
	host := r.Header.Get("Host")
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
		if host[i] == ']' {
			break
		}
	}
	return host
}

// HasBody reports whether the request carried a body.
func (r *Request) HasBody() bool {
	return r.Chunked || r.ContentLength > 0
}
