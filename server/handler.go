package server

import (
	"context"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/request"
	"github.com/advdv/webserv/router"
)

// Exchange is a complete request together with the connection it arrived on and the place it was routed to.
type Exchange struct {
	Conn     *Conn
	Request  *request.Request
	Host     *router.VirtualHost
	Location *router.Location
}

// Handler produces the response for a routed request. Returning an error makes the server answer with the error
// page for [webserv.CodeOf] the error. A nil response with a nil error means the response is produced later by a
// CGI process.
type Handler interface {
	ServeWebserv(ctx context.Context, x *Exchange) (*webserv.Response, error)
}

// HandlerFunc allows casting a function to implement [Handler].
type HandlerFunc func(ctx context.Context, x *Exchange) (*webserv.Response, error)

// ServeWebserv implements the [Handler] interface.
func (f HandlerFunc) ServeWebserv(ctx context.Context, x *Exchange) (*webserv.Response, error) {
	return f(ctx, x)
}

// Middleware for cross-cutting concerns around request handling.
type Middleware func(Handler) Handler

// Wrap takes the inner handler h and wraps it with middleware. The middleware provided first is called first and
// is the outermost wrapping, the middleware provided last is closest to the handler.
func Wrap(h Handler, m ...Middleware) Handler {
	wrapped := h
	for i := len(m) - 1; i >= 0; i-- {
		wrapped = m[i](wrapped)
	}
	return wrapped
}
