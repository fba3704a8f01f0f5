package server_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/advdv/webserv/config"
	"github.com/advdv/webserv/poller"
	"github.com/advdv/webserv/router"
	"github.com/advdv/webserv/server"
	"github.com/carlmjohnson/requests"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testConfig = `
root $ROOT;

server {
	listen 127.0.0.1:$PORT;
	error_page 404 /404.html;

	location /cgi-bin {
		cgi_dir /cgi-bin;
		cgi_ext .sh /bin/sh;
	}
	location /upload {
		upload_dir /uploads;
	}
	location /small {
		client_max_body_size 8;
		upload_dir /uploads;
	}
	location /ro {
		limit_except GET HEAD;
	}
	location /listing {
		autoindex on;
	}
	location /old {
		return 301 http://example.com/new;
	}
	location /hello {
		return 200 "hi there";
	}
}
`

type harness struct {
	addr string
	root string
	srv  *server.Server
	reg  *prometheus.Registry
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func writeFile(t *testing.T, p, content string, perm os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), perm))
}

func setupRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "<p>home</p>", 0o644)
	writeFile(t, filepath.Join(root, "404.html"), "custom not found", 0o644)
	writeFile(t, filepath.Join(root, "style.css"), "body{}", 0o644)
	writeFile(t, filepath.Join(root, "ro", "file.txt"), "read only", 0o644)
	writeFile(t, filepath.Join(root, "listing", "a.txt"), "aaa", 0o644)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "listing", "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "uploads"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cgi-bin"), 0o755))
	return root
}

func start(t *testing.T, opts server.Options) *harness {
	t.Helper()
	root, port := setupRoot(t), freePort(t)

	cfg, err := config.Parse(strings.NewReplacer("$ROOT", root, "$PORT", strconv.Itoa(port)).Replace(testConfig))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	srv, err := server.New(zaptest.NewLogger(t), router.New(cfg), opts, server.NewMetrics(reg), nil)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	require.Len(t, srv.Addrs(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		require.NoError(t, srv.Stop(stopCtx))
		cancel()
		require.NoError(t, <-errc)
	})

	return &harness{addr: "127.0.0.1:" + strconv.Itoa(port), root: root, srv: srv, reg: reg}
}

func (h *harness) url(p string) string { return "http://" + h.addr + p }

// raw sends payload as is and returns everything the server answers until it closes the connection.
func (h *harness) raw(t *testing.T, payload string) string {
	t.Helper()
	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	_, err = io.WriteString(conn, payload)
	require.NoError(t, err)

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func (h *harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestStaticContent(t *testing.T) {
	for _, backend := range []string{poller.BackendPoll, poller.BackendEpoll} {
		t.Run(backend, func(t *testing.T) {
			h := start(t, server.Options{Backend: backend, PollTimeout: 50 * time.Millisecond})
			ctx := context.Background()

			var body string
			require.NoError(t, requests.URL(h.url("/")).ToString(&body).Fetch(ctx))
			assert.Equal(t, "<p>home</p>", body)

			hdr := http.Header{}
			require.NoError(t, requests.URL(h.url("/style.css")).ToString(&body).CopyHeaders(hdr).Fetch(ctx))
			assert.Equal(t, "body{}", body)
			assert.Equal(t, "text/css", hdr.Get("Content-Type"))
			assert.Equal(t, "6", hdr.Get("Content-Length"))

			out := h.raw(t, "GET /style.css HTTP/1.1\r\nHost: localhost\r\n\r\n")
			assert.Contains(t, out, "Connection: close\r\n")

			assert.Equal(t, float64(3), h.counter(t, "webserv_requests_total", map[string]string{"code": "200"}))
		})
	}
}

func TestHead(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})

	out := h.raw(t, "HEAD /style.css HTTP/1.1\r\nHost: localhost\r\n\r\n")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"), out)
	assert.Contains(t, out, "Content-Length: 6\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"), "no body expected: %q", out)
}

func TestErrorResponses(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})

	for _, tt := range []struct {
		name    string
		payload string
		status  string
		body    string
	}{
		{"configured error page", "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n", "404 Not Found", "custom not found"},
		{"generic error page", "DELETE /ro/file.txt HTTP/1.1\r\nHost: x\r\n\r\n", "405 Method Not Allowed",
			"405 Method Not Allowed"},
		{"malformed header", "GET / HTTP/1.1\r\nno colon here\r\n\r\n", "400 Bad Request", "400 Bad Request"},
		{"unknown method", "PATCH / HTTP/1.1\r\nHost: x\r\n\r\n", "405 Method Not Allowed", ""},
		{"unsupported version", "GET / HTTP/1.0\r\nHost: x\r\n\r\n", "505 HTTP Version Not Supported", ""},
		{"declared body too large", "POST /small/a HTTP/1.1\r\nHost: x\r\nContent-Length: 100\r\n\r\n",
			"413 Payload Too Large", ""},
		{"directory without index", "GET /ro/ HTTP/1.1\r\nHost: x\r\n\r\n", "403 Forbidden", ""},
		{"post without upload_dir", "POST /ro/x HTTP/1.1\r\nHost: x\r\nContent-Length: 1\r\n\r\nx",
			"405 Method Not Allowed", ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			out := h.raw(t, tt.payload)
			require.True(t, strings.HasPrefix(out, "HTTP/1.1 "+tt.status+"\r\n"), out)
			assert.Contains(t, out, "Connection: close\r\n")
			assert.Contains(t, out, tt.body)
		})
	}
}

func TestRedirects(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})

	t.Run("directory without slash", func(t *testing.T) {
		out := h.raw(t, "GET /listing?x=1 HTTP/1.1\r\nHost: x\r\n\r\n")
		assert.True(t, strings.HasPrefix(out, "HTTP/1.1 301 Moved Permanently\r\n"), out)
		assert.Contains(t, out, "Location: /listing/?x=1\r\n")
	})

	t.Run("return url", func(t *testing.T) {
		out := h.raw(t, "GET /old/page HTTP/1.1\r\nHost: x\r\n\r\n")
		assert.True(t, strings.HasPrefix(out, "HTTP/1.1 301 Moved Permanently\r\n"), out)
		assert.Contains(t, out, "Location: http://example.com/new\r\n")
	})

	t.Run("return text", func(t *testing.T) {
		var body string
		require.NoError(t, requests.URL(h.url("/hello")).ToString(&body).Fetch(context.Background()))
		assert.Equal(t, "hi there", body)
	})
}

func TestAutoindex(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})

	var body string
	require.NoError(t, requests.URL(h.url("/listing/")).ToString(&body).Fetch(context.Background()))
	assert.Contains(t, body, "<h1>Index of /listing/</h1>")
	assert.Contains(t, body, `<a href="/listing/a.txt">a.txt</a>`)
	assert.Contains(t, body, `<a href="/listing/sub/">sub/</a>`)
	assert.Less(t, strings.Index(body, "a.txt"), strings.Index(body, "sub/"))
}

func TestUploadAndDelete(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	var body string
	require.NoError(t, requests.URL(h.url("/upload/note.txt")).Post().BodyBytes([]byte("hello")).
		CheckStatus(http.StatusCreated).ToString(&body).Fetch(ctx))
	assert.Equal(t, "Successfully uploaded /upload/note.txt\n", body)

	data, err := os.ReadFile(filepath.Join(h.root, "uploads", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	err = requests.URL(h.url("/upload/note.txt")).Post().BodyBytes([]byte("again")).Fetch(ctx)
	require.True(t, requests.HasStatusErr(err, http.StatusConflict), "%v", err)

	require.NoError(t, requests.URL(h.url("/upload/note.txt")).Put().BodyBytes([]byte("replaced")).
		CheckStatus(http.StatusCreated).Fetch(ctx))
	data, err = os.ReadFile(filepath.Join(h.root, "uploads", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, requests.URL(h.url("/uploads/note.txt")).Delete().ToString(&body).Fetch(ctx))
	assert.Equal(t, "Successfully deleted /uploads/note.txt\n", body)
	_, err = os.Stat(filepath.Join(h.root, "uploads", "note.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)

	err = requests.URL(h.url("/uploads/note.txt")).Delete().Fetch(ctx)
	require.True(t, requests.HasStatusErr(err, http.StatusNotFound), "%v", err)
}

func TestChunkedUpload(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})

	out := h.raw(t, "POST /upload/wiki.txt HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 201 Created\r\n"), out)

	data, err := os.ReadFile(filepath.Join(h.root, "uploads", "wiki.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Wikipedia", string(data))
}

func TestBodyOverLimit(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})

	out := h.raw(t, "POST /small/a HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"9\r\n123456789\r\n0\r\n\r\n")
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 413 Payload Too Large\r\n"), out)
	_, err := os.Stat(filepath.Join(h.root, "uploads", "a"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplitRequest(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})

	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	for _, part := range []string{"GET /sty", "le.css HTTP/1.1\r\n", "Host: x\r\n", "\r\n"} {
		_, err := io.WriteString(conn, part)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "HTTP/1.1 200 OK\r\n"))
	assert.True(t, strings.HasSuffix(string(out), "\r\n\r\nbody{}"))
}

func TestConcurrentConnectionsDoNotInterleave(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})
	big := strings.Repeat("0123456789abcdef", 4096)
	writeFile(t, filepath.Join(h.root, "big.txt"), big, 0o644)

	var wg sync.WaitGroup
	bodies := make([]string, 8)
	errs := make([]error, len(bodies))
	for i := range bodies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := "/big.txt"
			if i%2 == 1 {
				path = "/style.css"
			}
			errs[i] = requests.URL(h.url(path)).ToString(&bodies[i]).Fetch(context.Background())
		}()
	}
	wg.Wait()

	for i, body := range bodies {
		require.NoError(t, errs[i])
		if i%2 == 1 {
			assert.Equal(t, "body{}", body)
		} else {
			assert.Equal(t, big, body)
		}
	}
}

func TestDiagnosticDump(t *testing.T) {
	h := start(t, server.Options{PollTimeout: 50 * time.Millisecond})

	var body string
	require.NoError(t, requests.URL(h.url("/")).Method("FTFT").ToString(&body).Fetch(context.Background()))
	assert.Contains(t, body, "virtual hosts:")
	assert.Contains(t, body, "server _ on 127.0.0.1:")
	assert.Contains(t, body, "location /cgi-bin")
	assert.Contains(t, body, "listen 127.0.0.1:")
	assert.Contains(t, body, "cgi processes:")
}

func TestStopWithoutTraffic(t *testing.T) {
	start(t, server.Options{PollTimeout: 10 * time.Millisecond})
}
