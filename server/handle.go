package server

import (
	"context"
	"os"
	"strings"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/config"
	"github.com/advdv/webserv/router"
	"github.com/advdv/webserv/static"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// handle is the innermost handler: method policy, rewrites, CGI, then the built-in method handlers.
func (s *Server) handle(_ context.Context, x *Exchange) (*webserv.Response, error) {
	loc, req := x.Location, x.Request
	if strings.ToUpper(req.Method) != req.Method || !loc.Allows(req.Method) {
		return nil, webserv.Errorf(webserv.CodeMethodNotAllowed, "%s is not allowed in %s", req.Method, loc)
	}
	if loc.Return != nil {
		return rewrite(loc.Return.Code, loc.Return.Target)
	}
	if loc.IsCGI(req.Path) {
		return nil, s.startCGI(x)
	}

	switch req.Method {
	case "GET", "HEAD":
		return static.Serve(loc, req)
	case "POST":
		return upload(x, false)
	case "PUT":
		return upload(x, true)
	case "DELETE":
		return remove(x)
	case "FTFT":
		return webserv.NewResponse(webserv.CodeOK, "text/plain", []byte(s.String()+"\n")), nil
	default:
		return nil, webserv.Errorf(webserv.CodeMethodNotAllowed, "no handler for %s", req.Method)
	}
}

// rewrite answers a return directive. A quoted target is sent as the body, a URL as a redirect.
func rewrite(code webserv.Code, target string) (*webserv.Response, error) {
	if text, ok := config.Unquote(target); ok {
		return webserv.NewTextResponse(code, text), nil
	}
	if config.IsHTTPURL(target) {
		return webserv.NewRedirect(code, target), nil
	}
	return nil, webserv.Errorf(webserv.CodeInternalServerError, "return target %q is neither text nor a URL", target)
}

func upload(x *Exchange, overwrite bool) (*webserv.Response, error) {
	loc, req := x.Location, x.Request
	if loc.UploadDir == "" {
		return nil, webserv.Errorf(webserv.CodeMethodNotAllowed, "%s has no upload_dir", loc)
	}
	if strings.HasSuffix(req.Path, "/") {
		return nil, webserv.Errorf(webserv.CodeForbidden, "cannot upload to directory %q", req.Path)
	}

	dst := loc.UploadPath(req.Path)
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(dst, flags, 0o644)
	switch {
	case errors.Is(err, os.ErrExist):
		return nil, webserv.Errorf(webserv.CodeConflict, "%q already exists", dst)
	case err != nil:
		return nil, webserv.NewError(webserv.CodeInternalServerError, errors.Wrapf(err, "failed to create %q", dst))
	}
	if _, err := f.Write(req.Body); err != nil {
		f.Close()
		return nil, webserv.NewError(webserv.CodeInternalServerError, errors.Wrapf(err, "failed to write %q", dst))
	}
	if err := f.Close(); err != nil {
		return nil, webserv.NewError(webserv.CodeInternalServerError, errors.Wrapf(err, "failed to close %q", dst))
	}

	return webserv.NewTextResponse(webserv.CodeCreated, "Successfully uploaded "+req.Path+"\n"), nil
}

func remove(x *Exchange) (*webserv.Response, error) {
	loc, req := x.Location, x.Request
	if loc.UploadDir == "" {
		return nil, webserv.Errorf(webserv.CodeMethodNotAllowed, "%s has no upload_dir", loc)
	}

	p := loc.DiskPath(req.Path)
	info, err := os.Stat(p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, webserv.NewError(webserv.CodeNotFound, err)
	case err != nil:
		return nil, webserv.NewError(webserv.CodeForbidden, err)
	case info.IsDir():
		return nil, webserv.Errorf(webserv.CodeForbidden, "refusing to delete directory %q", p)
	}
	if err := os.Remove(p); err != nil {
		return nil, webserv.NewError(webserv.CodeInternalServerError, errors.Wrapf(err, "failed to delete %q", p))
	}

	return webserv.NewTextResponse(webserv.CodeOK, "Successfully deleted "+req.Path+"\n"), nil
}

// errorPage renders code with the page configured for loc, falling back to the generic body.
func (s *Server) errorPage(loc *router.Location, code webserv.Code) *webserv.Response {
	if loc == nil {
		return webserv.NewErrorResponse(code)
	}
	p, ok := loc.ErrorPage(code)
	if !ok {
		return webserv.NewErrorResponse(code)
	}
	resp, err := static.File(code, p)
	if err != nil {
		s.logs.Warn("configured error page unavailable", zap.String("page", p), zap.Error(err))
		return webserv.NewErrorResponse(code)
	}
	return resp
}
