package request_test

import (
	"strings"
	"testing"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, a *request.Assembler, raw string, step int) request.State {
	t.Helper()
	var st request.State
	prev := a.State()
	for i := 0; i < len(raw); i += step {
		st, _ = a.Feed([]byte(raw[i:min(i+step, len(raw))]))
		require.GreaterOrEqual(t, st, prev, "state went backwards")
		prev = st
	}
	return st
}

func TestAssembleGet(t *testing.T) {
	for _, step := range []int{1, 3, 7, 1 << 10} {
		a := request.NewAssembler(nil)
		st := feedAll(t, a, "GET /a/../b%20c/?x=1&y=2 HTTP/1.1\r\nhost: example.com:8080\r\nX-Custom:  spaced \t\r\n\r\n", step)
		require.Equal(t, request.Complete, st)
		require.NoError(t, a.Err())

		req := a.Request()
		assert.Equal(t, "GET", req.Method)
		assert.Equal(t, "/b c/", req.Path)
		assert.Equal(t, "x=1&y=2", req.RawQuery)
		assert.Equal(t, "HTTP/1.1", req.Version)
		assert.Equal(t, "example.com:8080", req.Header.Get("Host"))
		assert.Equal(t, "example.com", req.Host())
		assert.Equal(t, "spaced", req.Header.Get("X-Custom"))
		assert.False(t, req.HasBody())
	}
}

func TestAssembleAbsoluteForm(t *testing.T) {
	a := request.NewAssembler(nil)
	st, err := a.Feed([]byte("GET http://example.com/x?q HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, request.Complete, st)
	assert.Equal(t, "/x", a.Request().Path)
	assert.Equal(t, "q", a.Request().RawQuery)
}

func TestAssembleContentLength(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world and then some"
	for _, step := range []int{1, 5, 1 << 10} {
		a := request.NewAssembler(nil)
		st := feedAll(t, a, raw, step)
		require.Equal(t, request.Complete, st)
		assert.Equal(t, "hello world", string(a.Request().Body))
		assert.Equal(t, int64(11), a.BytesRead())
	}
}

func TestAssembleBodyAcrossReads(t *testing.T) {
	a := request.NewAssembler(nil)
	st, err := a.Feed([]byte("PUT /f HTTP/1.1\r\nContent-Length: 6\r\n\r\nab"))
	require.NoError(t, err)
	require.Equal(t, request.ReadingBody, st)

	st, err = a.Feed([]byte("cd"))
	require.NoError(t, err)
	require.Equal(t, request.ReadingBody, st)

	st, err = a.Feed([]byte("ef"))
	require.NoError(t, err)
	require.Equal(t, request.Complete, st)
	require.Equal(t, "abcdef", string(a.Request().Body))
}

func TestAssembleChunked(t *testing.T) {
	for _, tt := range []struct {
		name string
		body string
		want string
	}{
		{"single", "4\r\nWiki\r\n0\r\n\r\n", "Wiki"},
		{"multiple", "4\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\n\r\n", "Wikipedia in\r\n\r\nchunks."},
		{"extension", "4;name=value\r\nWiki\r\n0\r\n\r\n", "Wiki"},
		{"trailers", "4\r\nWiki\r\n0\r\nExpires: never\r\nX-Other: 1\r\n\r\n", "Wiki"},
		{"uppercase hex", "A\r\n0123456789\r\n0\r\n\r\n", "0123456789"},
		{"empty", "0\r\n\r\n", ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			raw := "POST /c HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" + tt.body
			for _, step := range []int{1, 2, 3, 1 << 10} {
				a := request.NewAssembler(nil)
				st := feedAll(t, a, raw, step)
				require.Equal(t, request.Complete, st, "step %d", step)
				require.NoError(t, a.Err())
				require.Equal(t, tt.want, string(a.Request().Body))
				require.True(t, a.Request().Chunked)
				require.Equal(t, int64(len(tt.want)), a.Request().ContentLength)
			}
		})
	}
}

func TestAssembleChunkedWinsOverContentLength(t *testing.T) {
	a := request.NewAssembler(nil)
	st, err := a.Feed([]byte("POST /c HTTP/1.1\r\nContent-Length: 100\r\nTransfer-Encoding: gzip, chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, request.Complete, st)
	require.Equal(t, "abc", string(a.Request().Body))
	require.Empty(t, a.Request().Header.Get("Content-Length"))
}

func TestAssembleErrors(t *testing.T) {
	limit := func(*request.Request) int64 { return 8 }

	for _, tt := range []struct {
		name string
		raw  string
		code webserv.Code
	}{
		{"request line too short", "GET /\r\n\r\n", webserv.CodeBadRequest},
		{"request line double space", "GET  / HTTP/1.1\r\n\r\n", webserv.CodeBadRequest},
		{"header without colon", "GET / HTTP/1.1\r\nHost example.com\r\n\r\n", webserv.CodeBadRequest},
		{"header with space in name", "GET / HTTP/1.1\r\nBad Name: x\r\n\r\n", webserv.CodeBadRequest},
		{"folded header", "GET / HTTP/1.1\r\nA: b\r\n c\r\n\r\n", webserv.CodeBadRequest},
		{"unknown method", "PATCH / HTTP/1.1\r\n\r\n", webserv.CodeMethodNotAllowed},
		{"lowercase method", "get / HTTP/1.1\r\n\r\n", webserv.CodeMethodNotAllowed},
		{"http/1.0", "GET / HTTP/1.0\r\n\r\n", webserv.CodeHTTPVersionNotSupported},
		{"post without length", "POST / HTTP/1.1\r\n\r\n", webserv.CodeBadRequest},
		{"invalid content length", "PUT / HTTP/1.1\r\nContent-Length: 1x\r\n\r\n", webserv.CodeBadRequest},
		{"negative content length", "PUT / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", webserv.CodeBadRequest},
		{"conflicting content length", "PUT / HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n", webserv.CodeBadRequest},
		{"unsupported transfer encoding", "PUT / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", webserv.CodeNotImplemented},
		{"declared length over limit", "PUT / HTTP/1.1\r\nContent-Length: 9\r\n\r\n", webserv.CodeContentTooLarge},
		{"chunked over limit", "PUT / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nabcde\r\n5\r\nfghij\r\n0\r\n\r\n", webserv.CodeContentTooLarge},
		{"bad chunk size", "PUT / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n", webserv.CodeBadRequest},
		{"chunk without crlf", "PUT / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nabX\r\n", webserv.CodeBadRequest},
		{"chunk line with bare lf", "PUT / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n2\nab\r\n", webserv.CodeBadRequest},
		{"header section too large", "GET / HTTP/1.1\r\nX: " + strings.Repeat("a", request.MaxHeaderBytes) + "\r\n\r\n", webserv.CodeRequestHeaderFieldsTooLarge},
	} {
		t.Run(tt.name, func(t *testing.T) {
			a := request.NewAssembler(limit)
			st, err := a.Feed([]byte(tt.raw))
			require.Equal(t, request.Error, st)
			require.Error(t, err)
			require.Equal(t, tt.code, webserv.CodeOf(err), err.Error())
			require.Equal(t, err, a.Err())
		})
	}
}

func TestAssembleHeaderTooLargeWithoutTerminator(t *testing.T) {
	a := request.NewAssembler(nil)
	st, err := a.Feed([]byte("GET / HTTP/1.1\r\nX: "))
	require.NoError(t, err)
	require.Equal(t, request.ReadingHeaders, st)

	st, err = a.Feed([]byte(strings.Repeat("a", request.MaxHeaderBytes)))
	require.Equal(t, request.Error, st)
	require.Equal(t, webserv.CodeRequestHeaderFieldsTooLarge, webserv.CodeOf(err))
}

func TestAssembleTerminalIgnoresInput(t *testing.T) {
	a := request.NewAssembler(nil)
	st, _ := a.Feed([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.Equal(t, request.Complete, st)

	st, err := a.Feed([]byte("garbage"))
	require.NoError(t, err)
	require.Equal(t, request.Complete, st)

	b := request.NewAssembler(nil)
	st, _ = b.Feed([]byte("BREW / HTTP/1.1\r\n\r\n"))
	require.Equal(t, request.Error, st)
	st, err = b.Feed([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.Equal(t, request.Error, st)
	require.Equal(t, webserv.CodeMethodNotAllowed, webserv.CodeOf(err))
}

func TestAssembleLimitSeesParsedRequest(t *testing.T) {
	var seen *request.Request
	a := request.NewAssembler(func(r *request.Request) int64 {
		seen = r
		return 4
	})
	st, err := a.Feed([]byte("PUT /small HTTP/1.1\r\nHost: a\r\nContent-Length: 4\r\n\r\nabcd"))
	require.NoError(t, err)
	require.Equal(t, request.Complete, st)
	require.NotNil(t, seen)
	require.Equal(t, "/small", seen.Path)
	require.Equal(t, "a", seen.Host())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ReadingHeaders", request.ReadingHeaders.String())
	assert.Equal(t, "Complete", request.Complete.String())
	assert.Equal(t, "State(9)", request.State(9).String())
	assert.True(t, request.Error.Terminal())
	assert.False(t, request.ReadingBody.Terminal())
}
