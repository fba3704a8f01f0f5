package server

import (
	"os"
	"path/filepath"
	"time"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/cgi"
	"github.com/advdv/webserv/poller"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// startCGI spawns the script for the exchange and registers its pipes. The response is produced later from the
// script's output.
func (s *Server) startCGI(x *Exchange) error {
	loc, req := x.Location, x.Request
	script, pathInfo, mapping, ok := loc.Script(req.Path)
	if !ok {
		return webserv.Errorf(webserv.CodeNotFound, "no cgi_ext matches %q", req.Path)
	}

	file, err := filepath.Abs(loc.DiskPath(script))
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %q", script)
	}
	info, err := os.Stat(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return webserv.NewError(webserv.CodeNotFound, err)
	case err != nil:
		return webserv.NewError(webserv.CodeForbidden, err)
	case !info.Mode().IsRegular():
		return webserv.Errorf(webserv.CodeForbidden, "script %q is not a regular file", file)
	}

	env := cgi.Env(cgi.Params{
		Request:    req,
		ScriptName: script,
		ScriptFile: file,
		PathInfo:   pathInfo,
		ServerName: serverName(x),
		ServerPort: int(x.Conn.Local.Port()),
		RemoteAddr: x.Conn.Remote.Addr().String(),
	})

	body := req.HasBody() && len(req.Body) > 0
	p, err := cgi.Spawn(mapping.Interpreter, file, env, body)
	if err != nil {
		return webserv.NewError(webserv.CodeInternalServerError, err)
	}
	p.Client, p.Location = x.Conn.Fd, loc

	if err := s.cgis.Add(p); err != nil {
		s.abandon(p)
		return err
	}
	if err := s.poll.Add(p.Stdout, poller.Readable); err != nil {
		s.cgis.Remove(p)
		s.abandon(p)
		return errors.Wrap(err, "failed to monitor cgi stdout")
	}
	s.skip[p.Stdout] = true
	s.metrics.CGIProcesses.Inc()

	if body {
		if err := s.poll.Add(p.Stdin, 0); err != nil {
			unix.Close(p.Stdin)
			s.cgis.DetachStdin(p)
			_ = p.Kill()
			s.endCGI(p)
			return errors.Wrap(err, "failed to monitor cgi stdin")
		}
		s.skip[p.Stdin] = true
		s.queueWrite(p.Stdin, req.Body)
	}

	// the client stays quiet until the script produces output
	s.setWritable(x.Conn.Fd, false)
	s.logs.Debug("started cgi", zap.Stringer("process", p), zap.String("script", file),
		zap.String("interpreter", mapping.Interpreter))
	return nil
}

func serverName(x *Exchange) string {
	if len(x.Host.Names) > 0 {
		return x.Host.Names[0]
	}
	return x.Conn.Local.Addr().String()
}

// abandon releases a process that never made it into the loop.
func (s *Server) abandon(p *cgi.Process) {
	unix.Close(p.Stdout)
	if p.Stdin >= 0 {
		unix.Close(p.Stdin)
	}
	_ = p.Wait()
}

// handleCGIRead forwards one chunk of script output to the owning client.
func (s *Server) handleCGIRead(p *cgi.Process) {
	c, ok := s.conns[p.Client]
	if !ok {
		_ = p.Kill()
		s.endCGI(p)
		return
	}

	buf := make([]byte, ChunkSize)
	n, err := unix.Read(p.Stdout, buf)
	switch {
	case err != nil:
		s.logs.Warn("cgi read failed", zap.Stringer("process", p), zap.Error(err))
		_ = p.Kill()
		s.failCGI(c, p, webserv.NewError(webserv.CodeBadGateway, err), "read_error")
		return
	case n == 0:
		s.finishCGI(c, p)
		return
	}

	out, err := p.Feed(buf[:n], time.Now())
	if err != nil {
		_ = p.Kill()
		s.failCGI(c, p, err, "invalid_output")
		return
	}
	if len(out) > 0 {
		c.started = true
		s.queueWrite(c.Fd, out)
	}
}

// finishCGI handles end of output. Whatever is queued is flushed and the connection closes after it.
func (s *Server) finishCGI(c *Conn, p *cgi.Process) {
	if err := p.Finish(); err != nil {
		s.failCGI(c, p, err, "no_header")
		return
	}

	s.endCGI(p)
	c.closing = true
	s.setWritable(c.Fd, true)
	s.metrics.CGIOutcomes.WithLabelValues("ok").Inc()
	s.logs.Debug("cgi finished", zap.Stringer("process", p))
}

// failCGI ends the process and answers the client with err, unless script output already reached it.
func (s *Server) failCGI(c *Conn, p *cgi.Process, err error, outcome string) {
	s.endCGI(p)
	s.metrics.CGIOutcomes.WithLabelValues(outcome).Inc()
	if p.HeadersSent {
		s.logs.Debug("cgi failed after its headers were sent", zap.Stringer("process", p), zap.Error(err))
		s.closeClient(c, "cgi failure")
		return
	}
	s.respondError(c, p.Location, err)
}

// endCGI unregisters the process and closes its pipes. A process that cannot be reaped yet is swept later.
func (s *Server) endCGI(p *cgi.Process) {
	if _, ok := s.cgis.ByClient(p.Client); !ok {
		return
	}
	if p.Stdin >= 0 {
		s.dropPending(p.Stdin)
		s.closeAndRemove(p.Stdin)
	}
	s.closeAndRemove(p.Stdout)
	s.cgis.Remove(p)
	s.metrics.CGIProcesses.Dec()

	exited, err := p.Reap()
	if err != nil {
		s.logs.Warn("failed to reap cgi", zap.Stringer("process", p), zap.Error(err))
	}
	if !exited {
		s.zombies = append(s.zombies, p)
	}
}

// finishStdin closes the stdin pipe once the request body is fully written, signaling end of input.
func (s *Server) finishStdin(p *cgi.Process) {
	if p.Stdin < 0 {
		return
	}
	s.dropPending(p.Stdin)
	s.closeAndRemove(p.Stdin)
	s.cgis.DetachStdin(p)
}

// stdinFailed handles a failure to write the request body. The owning client gets a 500 when nothing was sent yet.
func (s *Server) stdinFailed(p *cgi.Process, err error) {
	s.logs.Debug("cgi stdin failed", zap.Stringer("process", p), zap.Error(err))
	if p.HeadersSent {
		// the script stopped reading, its output still counts
		s.finishStdin(p)
		return
	}

	_ = p.Kill()
	c, ok := s.conns[p.Client]
	if !ok {
		s.endCGI(p)
		return
	}
	s.failCGI(c, p, webserv.NewError(webserv.CodeInternalServerError, err), "stdin_error")
}

// sweepCGI kills silent scripts and reaps exited ones.
func (s *Server) sweepCGI(now time.Time) {
	for _, p := range s.cgis.All() {
		if !p.Idle(now, s.opts.CGITimeout) {
			// an exited script may still have its stdout held open by a descendant
			if _, err := p.Reap(); err != nil {
				s.logs.Warn("failed to reap cgi", zap.Stringer("process", p), zap.Error(err))
			}
			continue
		}

		s.logs.Info("cgi timed out", zap.Stringer("process", p), zap.Duration("timeout", s.opts.CGITimeout))
		if err := p.Wait(); err != nil {
			s.logs.Warn("failed to stop cgi", zap.Stringer("process", p), zap.Error(err))
		}
		c, ok := s.conns[p.Client]
		if !ok {
			s.endCGI(p)
			continue
		}
		s.failCGI(c, p, webserv.Errorf(webserv.CodeGatewayTimeout,
			"script silent for more than %s", s.opts.CGITimeout), "timeout")
	}

	live := s.zombies[:0]
	for _, p := range s.zombies {
		exited, err := p.Reap()
		if err != nil {
			s.logs.Warn("failed to reap cgi", zap.Stringer("process", p), zap.Error(err))
			continue
		}
		if !exited {
			live = append(live, p)
		}
	}
	clear(s.zombies[len(live):])
	s.zombies = live
}
