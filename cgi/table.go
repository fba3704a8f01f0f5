package cgi

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Table indexes running processes by client socket and by pipe descriptor. Entries are only added and removed
// together so both directions always agree.
type Table struct {
	byClient map[int]*Process
	byPipe   map[int]*Process
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{byClient: map[int]*Process{}, byPipe: map[int]*Process{}}
}

// Add registers p for its client and pipes. A client can own one process at a time.
func (t *Table) Add(p *Process) error {
	if _, ok := t.byClient[p.Client]; ok {
		return errors.Newf("client %d already owns a cgi process", p.Client)
	}
	t.byClient[p.Client] = p
	t.byPipe[p.Stdout] = p
	if p.Stdin >= 0 {
		t.byPipe[p.Stdin] = p
	}
	return nil
}

// Remove drops every entry of p.
func (t *Table) Remove(p *Process) {
	if t.byClient[p.Client] == p {
		delete(t.byClient, p.Client)
	}
	for _, fd := range []int{p.Stdout, p.Stdin} {
		if fd >= 0 && t.byPipe[fd] == p {
			delete(t.byPipe, fd)
		}
	}
}

// DetachStdin forgets the stdin pipe of p once it has been closed.
func (t *Table) DetachStdin(p *Process) {
	if p.Stdin >= 0 && t.byPipe[p.Stdin] == p {
		delete(t.byPipe, p.Stdin)
	}
	p.Stdin = -1
}

// ByClient returns the process serving a client socket.
func (t *Table) ByClient(fd int) (*Process, bool) {
	p, ok := t.byClient[fd]
	return p, ok
}

// ByPipe returns the process owning a pipe descriptor.
func (t *Table) ByPipe(fd int) (*Process, bool) {
	p, ok := t.byPipe[fd]
	return p, ok
}

// IsStdout reports whether fd is the stdout pipe of a process.
func (t *Table) IsStdout(fd int) bool {
	p, ok := t.byPipe[fd]
	return ok && p.Stdout == fd
}

// IsStdin reports whether fd is the stdin pipe of a process.
func (t *Table) IsStdin(fd int) bool {
	p, ok := t.byPipe[fd]
	return ok && p.Stdin == fd
}

// Len returns the number of processes.
func (t *Table) Len() int { return len(t.byClient) }

// All returns the processes ordered by client socket.
func (t *Table) All() []*Process {
	all := lo.Values(t.byClient)
	sort.Slice(all, func(i, j int) bool { return all[i].Client < all[j].Client })
	return all
}
