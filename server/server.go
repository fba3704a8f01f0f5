// Package server runs the readiness loop that drives every socket and CGI pipe of the web server.
//
// A single goroutine owns all state. Each iteration waits on the poller with a bounded timeout, dispatches every
// ready descriptor once and then sweeps CGI processes for timeouts. Requests are assembled incrementally, routed,
// handed to a [Handler] and answered through per-descriptor output queues. Every response closes its connection.
package server

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/cgi"
	"github.com/advdv/webserv/poller"
	"github.com/advdv/webserv/request"
	"github.com/advdv/webserv/router"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultPollTimeout bounds a single readiness wait.
const DefaultPollTimeout = time.Second

// Options tune the loop.
type Options struct {
	Backend     string
	PollTimeout time.Duration
	CGITimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.CGITimeout <= 0 {
		o.CGITimeout = cgi.DefaultTimeout
	}
	return o
}

// Server is the event loop. Create it with [New], bind with [Server.Listen] and drive it with [Server.Run].
type Server struct {
	logs    *zap.Logger
	table   *router.Table
	opts    Options
	poll    poller.Poller
	metrics *Metrics
	handler Handler

	running atomic.Bool
	done    chan struct{}

	listeners map[int]netip.AddrPort
	conns     map[int]*Conn
	pending   map[int]*outbound
	cgis      *cgi.Table
	zombies   []*cgi.Process

	// descriptors closed or created during the current iteration, their remaining events are stale
	skip map[int]bool
}

// New creates a server for the routing table. The tracer provider may be nil, in which case no spans are recorded.
func New(
	logs *zap.Logger, table *router.Table, opts Options, metrics *Metrics, tp trace.TracerProvider,
) (*Server, error) {
	opts = opts.withDefaults()
	poll, err := poller.New(opts.Backend)
	if err != nil {
		return nil, err
	}

	s := &Server{
		logs:      logs.Named("server"),
		table:     table,
		opts:      opts,
		poll:      poll,
		metrics:   metrics,
		done:      make(chan struct{}),
		listeners: map[int]netip.AddrPort{},
		conns:     map[int]*Conn{},
		pending:   map[int]*outbound{},
		cgis:      cgi.NewTable(),
		skip:      map[int]bool{},
	}

	s.handler = Wrap(HandlerFunc(s.handle),
		withTracing(tp),
		withMetrics(metrics),
		withLogging(s.logs),
	)
	return s, nil
}

// Listen binds one listening socket per distinct endpoint of the routing table.
func (s *Server) Listen() error {
	for _, ep := range s.table.Endpoints() {
		addr, err := netip.ParseAddrPort(ep)
		if err != nil {
			return errors.Wrapf(err, "invalid endpoint %q", ep)
		}
		fd, err := listen(addr)
		if err != nil {
			s.closeListeners()
			return err
		}
		if err := s.poll.Add(fd, poller.Readable); err != nil {
			unix.Close(fd)
			s.closeListeners()
			return err
		}
		s.listeners[fd] = addr
		s.logs.Info("listening", zap.Stringer("addr", addr), zap.Int("fd", fd))
	}
	s.running.Store(true)
	return nil
}

func (s *Server) closeListeners() {
	for fd := range s.listeners {
		s.closeAndRemove(fd)
		delete(s.listeners, fd)
	}
}

// Addrs returns the bound listening addresses.
func (s *Server) Addrs() []netip.AddrPort {
	addrs := make([]netip.AddrPort, 0, len(s.listeners))
	for _, fd := range s.poll.Fds() {
		if a, ok := s.listeners[fd]; ok {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// Run drives the loop until [Server.Stop] is called or ctx is done. Only a failing readiness wait ends it with an
// error. All descriptors are closed and all CGI processes killed before it returns.
func (s *Server) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.shutdown()

	for s.running.Load() && ctx.Err() == nil {
		if err := s.iterate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop asks the loop to end after the current iteration and waits for it, or for ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for the loop to stop")
	}
}

func (s *Server) iterate(ctx context.Context) error {
	ready, err := s.poll.Wait(s.opts.PollTimeout)
	if err != nil {
		return errors.Wrap(err, "readiness wait failed")
	}
	clear(s.skip)

	for _, r := range ready {
		s.dispatch(ctx, r)
	}
	s.sweepCGI(time.Now())
	return nil
}

func (s *Server) dispatch(ctx context.Context, r poller.Ready) {
	fd, ev := r.Fd, r.Events
	if s.skip[fd] {
		return
	}
	if _, ok := s.poll.Interest(fd); !ok {
		return
	}

	if _, ok := s.listeners[fd]; ok {
		if ev.Has(poller.Readable) {
			s.accept(fd)
		}
		return
	}

	if p, ok := s.cgis.ByPipe(fd); ok {
		switch {
		case fd == p.Stdout && ev.Any(poller.Readable|poller.Hangup|poller.Error):
			s.handleCGIRead(p)
		case fd == p.Stdin && ev.Has(poller.Writable):
			s.handlePipeWrite(p)
		case fd == p.Stdin && ev.Any(poller.Hangup|poller.Error):
			s.stdinFailed(p, errors.New("stdin pipe hung up"))
		}
		return
	}

	c, ok := s.conns[fd]
	if !ok {
		s.closeAndRemove(fd)
		return
	}
	if !ev.Any(poller.Readable | poller.Writable) {
		s.closeClient(c, "socket error or hangup")
		return
	}
	if ev.Has(poller.Readable) {
		s.handleRead(ctx, c)
	}
	if ev.Has(poller.Writable) && !s.skip[fd] {
		s.handleClientWrite(c)
	}
}

func (s *Server) accept(lfd int) {
	fd, sa, err := unix.Accept4(lfd, unix.SOCK_CLOEXEC)
	if err != nil {
		s.logs.Warn("accept failed", zap.Error(err))
		return
	}

	remote, _ := sockaddrToAddrPort(sa)
	local := s.listeners[lfd]
	if lsa, err := unix.Getsockname(fd); err == nil {
		if ap, err := sockaddrToAddrPort(lsa); err == nil {
			local = ap
		}
	}

	if err := s.poll.Add(fd, poller.Readable|poller.Writable); err != nil {
		s.logs.Error("failed to monitor client", zap.Int("fd", fd), zap.Error(err))
		unix.Close(fd)
		return
	}
	s.skip[fd] = true

	s.conns[fd] = &Conn{Fd: fd, Local: local, Remote: remote, Opened: time.Now()}
	s.metrics.Connections.Inc()
	s.metrics.Accepted.Inc()
	s.logs.Debug("accepted client", zap.Int("fd", fd), zap.Stringer("remote", remote), zap.Stringer("local", local))
}

func (s *Server) handleRead(ctx context.Context, c *Conn) {
	buf := make([]byte, ChunkSize)
	n, _, err := unix.Recvfrom(c.Fd, buf, unix.MSG_DONTWAIT)
	if err != nil || n == 0 {
		s.closeClient(c, "client closed")
		return
	}
	if c.handled {
		return
	}

	if c.asm == nil {
		c.asm = request.NewAssembler(s.bodyLimit(c))
	}
	st, err := c.asm.Feed(buf[:n])
	switch st {
	case request.Error:
		req := c.asm.Request()
		c.handled, c.asm = true, nil
		s.respondError(c, s.locationFor(c, req), err)
	case request.Complete:
		req := c.asm.Request()
		c.handled, c.asm = true, nil
		s.serve(ctx, c, req)
	}
}

// bodyLimit resolves the body size limit through routing, falling back to the default when routing fails.
func (s *Server) bodyLimit(c *Conn) request.LimitFunc {
	return func(r *request.Request) int64 {
		if loc := s.locationFor(c, r); loc != nil {
			return loc.MaxBody
		}
		return request.DefaultBodyLimit
	}
}

func (s *Server) locationFor(c *Conn, r *request.Request) *router.Location {
	if r == nil {
		return nil
	}
	_, loc, err := s.route(c, r)
	if err != nil {
		return nil
	}
	return loc
}

func (s *Server) route(c *Conn, r *request.Request) (*router.VirtualHost, *router.Location, error) {
	return s.table.Route(c.Local.Addr().String(), int(c.Local.Port()), r.Host(), r.Path)
}

func (s *Server) serve(ctx context.Context, c *Conn, req *request.Request) {
	vh, loc, err := s.route(c, req)
	if err != nil {
		s.respondError(c, nil, err)
		return
	}

	resp, err := s.handler.ServeWebserv(ctx, &Exchange{Conn: c, Request: req, Host: vh, Location: loc})
	switch {
	case err != nil:
		s.respondError(c, loc, err)
	case resp != nil:
		s.queueResponse(c, resp)
	}
}

// closeClient tears a client down together with any CGI process serving it.
func (s *Server) closeClient(c *Conn, reason string) {
	if _, ok := s.conns[c.Fd]; !ok {
		return
	}
	if p, ok := s.cgis.ByClient(c.Fd); ok {
		_ = p.Kill()
		s.endCGI(p)
		s.metrics.CGIOutcomes.WithLabelValues("aborted").Inc()
	}

	s.dropPending(c.Fd)
	s.closeAndRemove(c.Fd)
	delete(s.conns, c.Fd)
	s.metrics.Connections.Dec()
	s.logs.Debug("closed client", zap.Int("fd", c.Fd), zap.String("reason", reason),
		zap.Duration("open", time.Since(c.Opened)))
}

// closeAndRemove closes fd and stops monitoring it. Descriptors that are not monitored are left alone, which makes
// a second call a no-op.
func (s *Server) closeAndRemove(fd int) {
	if _, ok := s.poll.Interest(fd); !ok {
		return
	}
	if err := unix.Close(fd); err != nil {
		s.logs.Warn("close failed", zap.Int("fd", fd), zap.Error(err))
	}
	if err := s.poll.Remove(fd); err != nil {
		s.logs.Warn("failed to stop monitoring", zap.Int("fd", fd), zap.Error(err))
	}
	s.skip[fd] = true
}

func (s *Server) shutdown() {
	for _, c := range s.conns {
		s.closeClient(c, "shutdown")
	}
	for _, p := range s.cgis.All() {
		_ = p.Kill()
		s.endCGI(p)
	}
	for _, p := range s.zombies {
		_ = p.Wait()
	}
	s.zombies = nil
	s.closeListeners()
	if err := s.poll.Close(); err != nil {
		s.logs.Warn("failed to close poller", zap.Error(err))
	}
	s.logs.Info("loop stopped")
}

// respondError answers with the error page for err. A response that already started cannot be replaced, the
// connection is torn down instead.
func (s *Server) respondError(c *Conn, loc *router.Location, err error) {
	code := webserv.CodeOf(err)
	if code == webserv.CodeUnknown {
		s.logs.Error("unhandled server error", zap.Int("fd", c.Fd), zap.Error(err))
		code = webserv.CodeInternalServerError
	} else {
		s.logs.Debug("request failed", zap.Int("fd", c.Fd), zap.Int("code", int(code)), zap.Error(err))
	}

	if c.started {
		s.closeClient(c, "error after response started")
		return
	}
	s.dropPending(c.Fd)
	s.queueResponse(c, s.errorPage(loc, code))
}
