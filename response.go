package webserv

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// Version is the only protocol version spoken.
const Version = "HTTP/1.1"

// Response is a complete response waiting to be serialized. Body is written first, followed by the contents of
// Stream, if set. Length is the total body length announced in Content-Length.
type Response struct {
	Code   Code
	Header http.Header
	Body   []byte
	Stream io.ReadCloser
	Length int64

	// NoBody suppresses the body while keeping the headers that describe it, as HEAD requires.
	NoBody bool
}

// NewResponse creates a response with an in-memory body.
func NewResponse(code Code, contentType string, body []byte) *Response {
	r := &Response{Code: code, Header: http.Header{}, Body: body, Length: int64(len(body))}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

// NewTextResponse creates a text/html response from a string, matching what the server sends for short
// confirmations.
func NewTextResponse(code Code, text string) *Response {
	return NewResponse(code, "text/html", []byte(text))
}

// NewRedirect creates a body-less redirect to location.
func NewRedirect(code Code, location string) *Response {
	r := NewResponse(code, "", nil)
	r.Header.Set("Location", location)
	return r
}

// NewErrorResponse creates the generic HTML error page for code.
func NewErrorResponse(code Code) *Response {
	return NewResponse(code, "text/html", ErrorBody(code))
}

// WrapHTML wraps content into the minimal document used for generated pages.
func WrapHTML(content string) string {
	return "<html>\r\n\t<body>\r\n\t\t" + content + "\r\n\t</body>\r\n</html>\r\n"
}

// ErrorBody renders the generic error document for code.
func ErrorBody(code Code) []byte {
	return []byte(WrapHTML("<h1>\r\n\t\t\t" + strconv.Itoa(int(code)) + " " + StatusText(code) + "\r\n\t\t</h1>"))
}

// StatusLine renders "HTTP/1.1 <code> <reason>" including the trailing CRLF.
func StatusLine(code Code) string {
	return Version + " " + strconv.Itoa(int(code)) + " " + StatusText(code) + "\r\n"
}

// Head serializes the status line and the header section, Content-Length and Connection included.
func (r *Response) Head() []byte {
	var buf bytes.Buffer
	buf.WriteString(StatusLine(r.Code))

	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Length", strconv.FormatInt(r.Length, 10))
	h.Set("Connection", "close")
	_ = h.Write(&buf)

	buf.WriteString("\r\n")
	return buf.Bytes()
}

// Close releases the stream, if any.
func (r *Response) Close() error {
	if r.Stream == nil {
		return nil
	}
	return r.Stream.Close()
}
