// Package webserv is a single-process HTTP/1.1 origin server that multiplexes client connections and CGI
// subprocess pipes over one readiness-polling loop.
//
// # Overview
//
// The server never spawns worker goroutines for requests. One loop waits for readiness on every descriptor it owns
// (listening sockets, client sockets, CGI stdout and stdin pipes) and advances each connection by at most one bounded
// read or write per iteration. Sockets are left in blocking mode: a read or write is only attempted after the
// readiness primitive reported the descriptor ready, and any failure tears the connection down.
//
// A minimal example:
//
//	cfg, err := config.Load("conf/default.conf")
//	if err != nil {
//	    return err
//	}
//	srv, err := server.New(logs, router.New(cfg), server.Options{}, server.NewMetrics(prometheus.NewRegistry()), nil)
//	if err != nil {
//	    return err
//	}
//	if err := srv.Listen(); err != nil {
//	    return err
//	}
//	go srv.Run(ctx)
//	defer srv.Stop(ctx)
//
// The webserv command does the same through the app package, which adds environment parsing, tracing and a
// metrics endpoint.
//
// # Packages
//
//   - [github.com/advdv/webserv/config] reads the nginx-like configuration into an immutable directive tree.
//   - [github.com/advdv/webserv/request] assembles requests incrementally from raw bytes.
//   - [github.com/advdv/webserv/router] selects the virtual host and location for a request.
//   - [github.com/advdv/webserv/static] serves files, index files and directory listings.
//   - [github.com/advdv/webserv/cgi] builds CGI environments, parses CGI headers and tracks live children.
//   - [github.com/advdv/webserv/poller] wraps poll(2) and epoll(7).
//   - [github.com/advdv/webserv/server] owns the loop, the outbound queues and request dispatch.
//   - [github.com/advdv/webserv/app] wires everything with fx, zap, otel and prometheus.
//   - [github.com/advdv/webserv/cmd/webserv] is the command line entry point.
//
// # Errors
//
// Components report failures as [*Error] values carrying a [Code]. The loop renders the location's configured
// error page for that code, or a generic HTML page when none is configured or readable:
//
//	return webserv.NewError(webserv.CodeForbidden, errors.New("directory listing disabled"))
//
// Errors without a code are treated as 500 Internal Server Error. I/O failures on a socket never produce a
// response: the connection is closed.
//
// # Responses
//
// Every response carries "Connection: close" and the connection is closed once its outbound queue drains.
// Keep-alive, TLS, HTTP/2, compression and chunked responses are not supported.
package webserv
