package webserv

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Code is a response status code. It is used to create errors that travel from the request assembler, the router
// and the handlers back to the loop, which turns them into error pages.
type Code int

const (
	CodeUnknown Code = 0

	CodeContinue           Code = http.StatusContinue           // RFC 9110, 15.2.1
	CodeSwitchingProtocols Code = http.StatusSwitchingProtocols // RFC 9110, 15.2.2

	CodeOK        Code = http.StatusOK        // RFC 9110, 15.3.1
	CodeCreated   Code = http.StatusCreated   // RFC 9110, 15.3.2
	CodeAccepted  Code = http.StatusAccepted  // RFC 9110, 15.3.3
	CodeNoContent Code = http.StatusNoContent // RFC 9110, 15.3.5

	CodeMovedPermanently  Code = http.StatusMovedPermanently  // RFC 9110, 15.4.2
	CodeFound             Code = http.StatusFound             // RFC 9110, 15.4.3
	CodeSeeOther          Code = http.StatusSeeOther          // RFC 9110, 15.4.4
	CodeNotModified       Code = http.StatusNotModified       // RFC 9110, 15.4.5
	CodeTemporaryRedirect Code = http.StatusTemporaryRedirect // RFC 9110, 15.4.8
	CodePermanentRedirect Code = http.StatusPermanentRedirect // RFC 9110, 15.4.9

	CodeBadRequest                  Code = http.StatusBadRequest                  // RFC 9110, 15.5.1
	CodeUnauthorized                Code = http.StatusUnauthorized                // RFC 9110, 15.5.2
	CodeForbidden                   Code = http.StatusForbidden                   // RFC 9110, 15.5.4
	CodeNotFound                    Code = http.StatusNotFound                    // RFC 9110, 15.5.5
	CodeMethodNotAllowed            Code = http.StatusMethodNotAllowed            // RFC 9110, 15.5.6
	CodeRequestTimeout              Code = http.StatusRequestTimeout              // RFC 9110, 15.5.9
	CodeConflict                    Code = http.StatusConflict                    // RFC 9110, 15.5.10
	CodeLengthRequired              Code = http.StatusLengthRequired              // RFC 9110, 15.5.12
	CodeContentTooLarge             Code = http.StatusRequestEntityTooLarge       // RFC 9110, 15.5.14
	CodeURITooLong                  Code = http.StatusRequestURITooLong           // RFC 9110, 15.5.15
	CodeTeapot                      Code = http.StatusTeapot                      // RFC 9110, 15.5.19 (Unused)
	CodeRequestHeaderFieldsTooLarge Code = http.StatusRequestHeaderFieldsTooLarge // RFC 6585, 5

	CodeInternalServerError     Code = http.StatusInternalServerError     // RFC 9110, 15.6.1
	CodeNotImplemented          Code = http.StatusNotImplemented          // RFC 9110, 15.6.2
	CodeBadGateway              Code = http.StatusBadGateway              // RFC 9110, 15.6.3
	CodeServiceUnavailable      Code = http.StatusServiceUnavailable      // RFC 9110, 15.6.4
	CodeGatewayTimeout          Code = http.StatusGatewayTimeout          // RFC 9110, 15.6.5
	CodeHTTPVersionNotSupported Code = http.StatusHTTPVersionNotSupported // RFC 9110, 15.6.6
)

// reasons overrides the phrases of net/http where the server reports a different one.
var reasons = map[Code]string{
	306:                 "Switch Proxy",
	CodeContentTooLarge: "Payload Too Large",
	422:                 "Unprocessable Content",
}

// StatusText returns the reason phrase for c, or the empty string when c is not a known status.
func StatusText(c Code) string {
	if s, ok := reasons[c]; ok {
		return s
	}
	return http.StatusText(int(c))
}

// Error describes an http error.
type Error struct {
	code Code
	err  error
}

// NewError inits a new error given the error code.
func NewError(c Code, underlying error) *Error {
	return &Error{c, underlying}
}

// Errorf is a shorthand for NewError with a formatted underlying error.
func Errorf(c Code, format string, args ...any) *Error {
	return &Error{c, errors.Newf(format, args...)}
}

func (e *Error) Code() Code    { return e.code }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Error() string {
	status := StatusText(e.Code())
	if status == "" {
		status = "Unknown"
	}

	return fmt.Sprintf("%s: %s", status, e.err.Error())
}

// CodeOf returns the error's status code if it is or wraps an [*Error] and
// [CodeUnknown] otherwise.
func CodeOf(err error) Code {
	if webErr, ok := asError(err); ok {
		return webErr.Code()
	}
	return CodeUnknown
}

// asError uses errors.As to unwrap any error and look for a *Error.
func asError(err error) (*Error, bool) {
	var webErr *Error
	ok := errors.As(err, &webErr)
	return webErr, ok
}

// Methods are the request methods the server understands. FTFT returns a plain-text dump of the server state.
var Methods = []string{"GET", "HEAD", "POST", "PUT", "DELETE", "FTFT"}
