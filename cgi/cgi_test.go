package cgi_test

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/cgi"
	"github.com/advdv/webserv/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSplitHead(t *testing.T) {
	for _, tt := range []struct {
		name string
		in   string
		head string
		body string
		ok   bool
	}{
		{"crlf", "A: 1\r\nB: 2\r\n\r\nbody", "A: 1\r\nB: 2", "body", true},
		{"lf", "A: 1\n\nbody", "A: 1", "body", true},
		{"first wins", "A: 1\n\nx\r\n\r\ny", "A: 1", "x\r\n\r\ny", true},
		{"incomplete", "A: 1\r\n", "", "", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			head, body, ok := cgi.SplitHead([]byte(tt.in))
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.head, string(head))
			assert.Equal(t, tt.body, string(body))
		})
	}
}

func TestBuildHead(t *testing.T) {
	for _, tt := range []struct {
		name string
		in   string
		want string
	}{
		{
			"defaults",
			"X-Thing: 1",
			"HTTP/1.1 200 OK\r\nX-Thing: 1\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n",
		},
		{
			"status with reason",
			"Status: 404 Gone Fishing\r\nContent-Type: text/plain",
			"HTTP/1.1 404 Gone Fishing\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\n",
		},
		{
			"status without reason",
			"status: 201",
			"HTTP/1.1 201 Created\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n",
		},
		{
			"location only",
			"Location: http://example.com/",
			"HTTP/1.1 302 Found\r\nLocation: http://example.com/\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n",
		},
		{
			"status beats location",
			"Location: /x\nStatus: 301",
			"HTTP/1.1 301 Moved Permanently\r\nLocation: /x\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n",
		},
		{
			"script connection header dropped",
			"Connection: keep-alive",
			"HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			out, err := cgi.BuildHead([]byte(tt.in))
			require.NoError(t, err)
			require.Equal(t, tt.want, string(out))
		})
	}

	for _, in := range []string{"no colon here", "Status: abc", "Status: 42", "Bad Key: x"} {
		_, err := cgi.BuildHead([]byte(in))
		require.Error(t, err, in)
	}
}

func TestProcessFeed(t *testing.T) {
	now := time.Now()

	t.Run("head then passthrough", func(t *testing.T) {
		p := &cgi.Process{}
		out, err := p.Feed([]byte("Content-Type: text/plain\r\n"), now)
		require.NoError(t, err)
		require.Nil(t, out)
		require.False(t, p.HeadersSent)

		out, err = p.Feed([]byte("\r\nhello"), now)
		require.NoError(t, err)
		require.True(t, p.HeadersSent)
		require.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\nhello", string(out))

		out, err = p.Feed([]byte("Status: 500\r\n\r\n"), now)
		require.NoError(t, err)
		require.Equal(t, "Status: 500\r\n\r\n", string(out))
		require.NoError(t, p.Finish())
	})

	t.Run("eof before head", func(t *testing.T) {
		p := &cgi.Process{}
		_, err := p.Feed([]byte("Content-Type: text/plain\r\n"), now)
		require.NoError(t, err)
		require.Equal(t, webserv.CodeBadGateway, webserv.CodeOf(p.Finish()))
	})

	t.Run("head too large", func(t *testing.T) {
		p := &cgi.Process{}
		_, err := p.Feed([]byte("X: "+strings.Repeat("a", cgi.MaxHeaderBytes)), now)
		require.Equal(t, webserv.CodeBadGateway, webserv.CodeOf(err))
	})

	t.Run("malformed head", func(t *testing.T) {
		p := &cgi.Process{}
		_, err := p.Feed([]byte("garbage\n\n"), now)
		require.Equal(t, webserv.CodeBadGateway, webserv.CodeOf(err))
	})

	t.Run("output too large", func(t *testing.T) {
		p := &cgi.Process{HeadersSent: true, Total: cgi.MaxOutputBytes - 1}
		_, err := p.Feed([]byte("ab"), now)
		require.Equal(t, webserv.CodeContentTooLarge, webserv.CodeOf(err))
	})

	t.Run("idle", func(t *testing.T) {
		p := &cgi.Process{LastActive: now}
		require.False(t, p.Idle(now.Add(time.Second), cgi.DefaultTimeout))
		require.True(t, p.Idle(now.Add(cgi.DefaultTimeout+time.Millisecond), cgi.DefaultTimeout))
	})
}

func TestEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/bin:/bin")
	req := &request.Request{
		Method:   "POST",
		Path:     "/cgi-bin/echo.py/extra",
		RawQuery: "a=1",
		Header: http.Header{
			"Content-Type": {"text/plain"},
			"X-Request-Id": {"abc"},
		},
		Body:          []byte("hello"),
		ContentLength: 5,
	}
	env := cgi.Env(cgi.Params{
		Request:    req,
		ScriptName: "/cgi-bin/echo.py",
		ScriptFile: "/srv/cgi-bin/echo.py",
		PathInfo:   "/extra",
		ServerName: "example.com",
		ServerPort: 8080,
		RemoteAddr: "127.0.0.1",
	})

	for _, want := range []string{
		"CONTENT_LENGTH=5",
		"CONTENT_TYPE=text/plain",
		"GATEWAY_INTERFACE=CGI/1.1",
		"HTTP_X_REQUEST_ID=abc",
		"PATH=/usr/bin:/bin",
		"PATH_INFO=/extra",
		"QUERY_STRING=a=1",
		"REDIRECT_STATUS=200",
		"REMOTE_ADDR=127.0.0.1",
		"REQUEST_METHOD=POST",
		"SCRIPT_FILENAME=/srv/cgi-bin/echo.py",
		"SCRIPT_NAME=/cgi-bin/echo.py",
		"SERVER_NAME=example.com",
		"SERVER_PORT=8080",
		"SERVER_PROTOCOL=HTTP/1.1",
		"SERVER_SOFTWARE=" + cgi.ServerSoftware,
	} {
		assert.Contains(t, env, want)
	}
	assert.IsIncreasing(t, env)

	req.Body, req.ContentLength = nil, 0
	for _, kv := range cgi.Env(cgi.Params{Request: req}) {
		assert.False(t, strings.HasPrefix(kv, "CONTENT_LENGTH="), kv)
	}
}

func TestTable(t *testing.T) {
	tbl := cgi.NewTable()
	p1 := &cgi.Process{Pid: 1, Client: 10, Stdout: 20, Stdin: 21}
	p2 := &cgi.Process{Pid: 2, Client: 5, Stdout: 22, Stdin: -1}
	require.NoError(t, tbl.Add(p1))
	require.NoError(t, tbl.Add(p2))
	require.Error(t, tbl.Add(&cgi.Process{Client: 10, Stdout: 30, Stdin: -1}))

	got, ok := tbl.ByClient(10)
	require.True(t, ok)
	require.Same(t, p1, got)
	got, ok = tbl.ByPipe(21)
	require.True(t, ok)
	require.Same(t, p1, got)
	require.True(t, tbl.IsStdout(20))
	require.True(t, tbl.IsStdin(21))
	require.False(t, tbl.IsStdin(20))
	require.Equal(t, []*cgi.Process{p2, p1}, tbl.All())

	tbl.DetachStdin(p1)
	require.Equal(t, -1, p1.Stdin)
	_, ok = tbl.ByPipe(21)
	require.False(t, ok)

	tbl.Remove(p1)
	_, ok = tbl.ByClient(10)
	require.False(t, ok)
	_, ok = tbl.ByPipe(20)
	require.False(t, ok)
	require.Equal(t, 1, tbl.Len())

	tbl.Remove(p1)
	require.Equal(t, 1, tbl.Len())
}

func TestSpawn(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "echo.sh")
	require.NoError(t, os.WriteFile(script,
		[]byte("printf 'Content-Type: text/plain\\r\\n\\r\\n'\npwd\ncat\necho \"$GREETING\"\n"), 0o755))

	p, err := cgi.Spawn("/bin/sh", script, []string{"GREETING=hi"}, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Wait() })

	_, err = unix.Write(p.Stdin, []byte("from stdin\n"))
	require.NoError(t, err)
	require.NoError(t, unix.Close(p.Stdin))

	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(p.Stdout, buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		chunk, err := p.Feed(buf[:n], time.Now())
		require.NoError(t, err)
		out = append(out, chunk...)
	}
	require.NoError(t, unix.Close(p.Stdout))
	require.NoError(t, p.Finish())

	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\n"+
		realDir+"\nfrom stdin\nhi\n", string(out))

	require.Eventually(t, func() bool {
		exited, err := p.Reap()
		return err == nil && exited
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSpawnMissingInterpreter(t *testing.T) {
	_, err := cgi.Spawn(filepath.Join(t.TempDir(), "nope"), "/x.py", nil, false)
	require.Error(t, err)
}
