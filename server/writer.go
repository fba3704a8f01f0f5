package server

import (
	"io"
	"time"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/cgi"
	"github.com/advdv/webserv/poller"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ChunkSize bounds a single read or write on any descriptor.
const ChunkSize = 4096

// outbound is the pending output of one descriptor. Buffered chunks go first, then the stream is read lazily one
// chunk at a time.
type outbound struct {
	chunks [][]byte
	stream io.ReadCloser
}

func (q *outbound) empty() bool { return len(q.chunks) == 0 && q.stream == nil }

func (q *outbound) buffered() int {
	n := 0
	for _, c := range q.chunks {
		n += len(c)
	}
	return n
}

// next returns the bytes to write next, at most ChunkSize of them. It returns nil once the queue is exhausted.
func (q *outbound) next() ([]byte, error) {
	if len(q.chunks) == 0 && q.stream != nil {
		buf := make([]byte, ChunkSize)
		n, err := q.stream.Read(buf)
		if n > 0 {
			q.chunks = append(q.chunks, buf[:n])
		}
		if err != nil {
			_ = q.stream.Close()
			q.stream = nil
			if !errors.Is(err, io.EOF) {
				return nil, errors.Wrap(err, "failed to read response stream")
			}
		}
	}
	if len(q.chunks) == 0 {
		return nil, nil
	}
	return q.chunks[0][:min(len(q.chunks[0]), ChunkSize)], nil
}

func (q *outbound) advance(n int) {
	q.chunks[0] = q.chunks[0][n:]
	if len(q.chunks[0]) == 0 {
		q.chunks[0] = nil
		q.chunks = q.chunks[1:]
	}
}

func (q *outbound) close() {
	if q.stream != nil {
		_ = q.stream.Close()
		q.stream = nil
	}
	q.chunks = nil
}

// queueWrite appends data to the pending output of fd and enables write interest.
func (s *Server) queueWrite(fd int, data []byte) {
	if len(data) == 0 {
		return
	}
	q := s.outbound(fd)
	q.chunks = append(q.chunks, data)
	s.setWritable(fd, true)
}

// queueResponse serializes resp into the pending output of the client.
func (s *Server) queueResponse(c *Conn, resp *webserv.Response) {
	q := s.outbound(c.Fd)
	q.chunks = append(q.chunks, resp.Head())
	switch {
	case resp.NoBody:
		_ = resp.Close()
	default:
		if len(resp.Body) > 0 {
			q.chunks = append(q.chunks, resp.Body)
		}
		q.stream = resp.Stream
	}
	c.started, c.closing = true, true
	s.setWritable(c.Fd, true)
}

func (s *Server) outbound(fd int) *outbound {
	q, ok := s.pending[fd]
	if !ok {
		q = &outbound{}
		s.pending[fd] = q
	}
	return q
}

func (s *Server) dropPending(fd int) {
	if q, ok := s.pending[fd]; ok {
		q.close()
		delete(s.pending, fd)
	}
}

func (s *Server) setWritable(fd int, on bool) {
	interest, ok := s.poll.Interest(fd)
	if !ok {
		return
	}
	next := interest &^ poller.Writable
	if on {
		next |= poller.Writable
	}
	if next == interest {
		return
	}
	if err := s.poll.Modify(fd, next); err != nil {
		s.logs.Error("failed to change write interest", zap.Int("fd", fd), zap.Error(err))
	}
}

// handleClientWrite sends one chunk of the client's pending output.
func (s *Server) handleClientWrite(c *Conn) {
	_, liveCGI := s.cgis.ByClient(c.Fd)

	q, ok := s.pending[c.Fd]
	if !ok || q.empty() {
		s.dropPending(c.Fd)
		s.setWritable(c.Fd, false)
		if !liveCGI && c.closing {
			s.closeClient(c, "response sent")
		}
		return
	}

	chunk, err := q.next()
	if err != nil {
		s.logs.Error("failed to produce response bytes", zap.Int("fd", c.Fd), zap.Error(err))
		s.closeClient(c, "stream failure")
		return
	}
	if chunk != nil {
		n, err := unix.SendmsgN(c.Fd, chunk, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		if err != nil {
			s.logs.Debug("send failed", zap.Int("fd", c.Fd), zap.Error(err))
			s.closeClient(c, "send failure")
			return
		}
		q.advance(n)
		s.metrics.BytesSent.Add(float64(n))
	}

	if q.empty() {
		delete(s.pending, c.Fd)
		if !liveCGI && c.closing {
			s.closeClient(c, "response sent")
		} else {
			s.setWritable(c.Fd, false)
		}
	}
}

// handlePipeWrite streams one chunk of the request body into a CGI process.
func (s *Server) handlePipeWrite(p *cgi.Process) {
	fd := p.Stdin
	q, ok := s.pending[fd]
	if !ok || q.empty() {
		s.finishStdin(p)
		return
	}

	chunk, err := q.next()
	if err != nil {
		s.stdinFailed(p, err)
		return
	}
	n, err := unix.Write(fd, chunk)
	if err != nil {
		s.stdinFailed(p, err)
		return
	}
	q.advance(n)
	p.LastActive = time.Now()
	if q.empty() {
		s.finishStdin(p)
	}
}
