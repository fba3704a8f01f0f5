// Package cgi runs CGI/1.1 scripts as child processes whose pipes are driven by the server loop.
//
// A [Process] owns the parent ends of the child's stdout and, while a request body is being streamed, stdin. Both are
// plain descriptors so the loop can poll them next to client sockets. The [Table] keeps the association between a
// process, its client socket and its pipes.
package cgi

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/router"
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const (
	// MaxHeaderBytes bounds the header section a script may send.
	MaxHeaderBytes = 8 << 10

	// MaxOutputBytes bounds everything a script may write to stdout.
	MaxOutputBytes = 10 << 20

	// DefaultTimeout is how long a script may stay silent before it is killed.
	DefaultTimeout = 5 * time.Second
)

// Process is a running script.
type Process struct {
	Pid    int
	Stdout int
	Stdin  int
	Client int

	Location *router.Location

	HeadersSent bool
	Total       int64
	LastActive  time.Time
	Exited      bool

	head []byte
}

// Spawn starts interpreter with script as its only argument, in the script's directory. When withStdin is false the
// child reads from /dev/null and Stdin is -1.
func Spawn(interpreter, script string, env []string, withStdin bool) (*Process, error) {
	var out [2]int
	if err := unix.Pipe2(out[:], unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "failed to create stdout pipe")
	}
	childOut := os.NewFile(uintptr(out[1]), "cgi-stdout")
	defer childOut.Close()

	stdin := -1
	var childIn *os.File
	if withStdin {
		var in [2]int
		if err := unix.Pipe2(in[:], unix.O_CLOEXEC); err != nil {
			unix.Close(out[0])
			return nil, errors.Wrap(err, "failed to create stdin pipe")
		}
		childIn, stdin = os.NewFile(uintptr(in[0]), "cgi-stdin"), in[1]
	} else {
		f, err := os.Open(os.DevNull)
		if err != nil {
			unix.Close(out[0])
			return nil, errors.Wrap(err, "failed to open null device")
		}
		childIn = f
	}
	defer childIn.Close()

	proc, err := os.StartProcess(interpreter, []string{interpreter, filepath.Base(script)}, &os.ProcAttr{
		Dir:   filepath.Dir(script),
		Env:   env,
		Files: []*os.File{childIn, childOut, os.Stderr},
	})
	if err != nil {
		unix.Close(out[0])
		if stdin >= 0 {
			unix.Close(stdin)
		}
		return nil, errors.Wrapf(err, "failed to start %q for %q", interpreter, script)
	}

	// the pid is managed with wait4 and kill from here on
	pid := proc.Pid
	_ = proc.Release()

	return &Process{
		Pid:        pid,
		Stdout:     out[0],
		Stdin:      stdin,
		Client:     -1,
		LastActive: time.Now(),
	}, nil
}

// Feed accounts for output read from the script and returns the bytes to forward to the client. Until the header
// section is complete nothing is forwarded. Once it is, the synthesized head is returned together with any body
// bytes, and everything afterwards passes through unchanged.
func (p *Process) Feed(chunk []byte, now time.Time) ([]byte, error) {
	p.LastActive = now
	p.Total += int64(len(chunk))
	if p.Total > MaxOutputBytes {
		return nil, webserv.Errorf(webserv.CodeContentTooLarge, "script output exceeds %d bytes", MaxOutputBytes)
	}
	if p.HeadersSent {
		return chunk, nil
	}

	p.head = append(p.head, chunk...)
	head, body, ok := SplitHead(p.head)
	if !ok {
		if len(p.head) > MaxHeaderBytes {
			return nil, webserv.Errorf(webserv.CodeBadGateway, "script header section exceeds %d bytes", MaxHeaderBytes)
		}
		return nil, nil
	}
	if len(head) > MaxHeaderBytes {
		return nil, webserv.Errorf(webserv.CodeBadGateway, "script header section exceeds %d bytes", MaxHeaderBytes)
	}

	out, err := BuildHead(head)
	if err != nil {
		return nil, webserv.NewError(webserv.CodeBadGateway, err)
	}
	p.HeadersSent = true
	p.head = nil
	return append(out, body...), nil
}

// Finish is called on end of output. It fails when the script never completed its header section.
func (p *Process) Finish() error {
	if !p.HeadersSent {
		return webserv.Errorf(webserv.CodeBadGateway, "script closed stdout after %d bytes without a complete header", len(p.head))
	}
	return nil
}

// Idle reports whether the script has been silent for longer than timeout.
func (p *Process) Idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastActive) > timeout
}

// Kill sends SIGKILL. A process that already exited is left alone.
func (p *Process) Kill() error {
	if p.Exited {
		return nil
	}
	if err := unix.Kill(p.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return errors.Wrapf(err, "failed to kill %d", p.Pid)
	}
	return nil
}

// Reap collects the exit status without blocking. It reports whether the process has exited.
func (p *Process) Reap() (bool, error) {
	if p.Exited {
		return true, nil
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(p.Pid, &ws, unix.WNOHANG, nil)
	switch {
	case errors.Is(err, unix.ECHILD):
		p.Exited = true
		return true, nil
	case err != nil:
		return false, errors.Wrapf(err, "failed to wait for %d", p.Pid)
	case pid == 0:
		return false, nil
	}
	p.Exited = true
	return true, nil
}

// Wait kills the process if needed and reaps it, blocking until it is gone.
func (p *Process) Wait() error {
	if err := p.Kill(); err != nil {
		return err
	}
	if p.Exited {
		return nil
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(p.Pid, &ws, 0, nil); err != nil && !errors.Is(err, unix.ECHILD) {
		return errors.Wrapf(err, "failed to wait for %d", p.Pid)
	}
	p.Exited = true
	return nil
}

func (p *Process) String() string {
	return fmt.Sprintf("cgi pid=%d client=%d stdout=%d stdin=%d total=%d headersSent=%t exited=%t",
		p.Pid, p.Client, p.Stdout, p.Stdin, p.Total, p.HeadersSent, p.Exited)
}
