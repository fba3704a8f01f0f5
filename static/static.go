// Package static serves files and directory listings from the file system.
package static

import (
	"io/fs"
	"os"
	"strings"

	"github.com/advdv/webserv"
	"github.com/advdv/webserv/request"
	"github.com/advdv/webserv/router"
	"github.com/cockroachdb/errors"
)

// Serve answers a GET or HEAD request for loc. Regular files come back with an open stream that the caller must
// close. Failures are returned as errors carrying the status code to answer with.
func Serve(loc *router.Location, r *request.Request) (*webserv.Response, error) {
	disk := loc.DiskPath(r.Path)
	if strings.HasSuffix(r.Path, "/") {
		return serveDir(loc, r, disk)
	}

	info, err := os.Stat(disk)
	if err != nil {
		return nil, statError(err, disk)
	}
	switch {
	case info.IsDir():
		target := r.Path + "/"
		if r.RawQuery != "" {
			target += "?" + r.RawQuery
		}
		return webserv.NewRedirect(webserv.CodeMovedPermanently, target), nil
	case info.Mode().IsRegular():
		return serveFile(disk, info, r.Method == "HEAD")
	default:
		return nil, webserv.Errorf(webserv.CodeNotFound, "%q is not a regular file", disk)
	}
}

func serveDir(loc *router.Location, r *request.Request, disk string) (*webserv.Response, error) {
	info, err := os.Stat(disk)
	if err != nil {
		return nil, statError(err, disk)
	}
	if !info.IsDir() {
		return nil, webserv.Errorf(webserv.CodeNotFound, "%q is not a directory", disk)
	}

	for _, index := range loc.Index {
		p := disk + index
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return serveFile(p, info, r.Method == "HEAD")
		}
	}

	if !loc.Autoindex {
		return nil, webserv.Errorf(webserv.CodeForbidden, "directory listing of %q is disabled", disk)
	}
	listing, err := Listing(r.Path, disk)
	if err != nil {
		return nil, webserv.NewError(webserv.CodeForbidden, err)
	}
	resp := webserv.NewTextResponse(webserv.CodeOK, webserv.WrapHTML(listing))
	resp.NoBody = r.Method == "HEAD"
	return resp, nil
}

// serveFile opens the file for streaming. A HEAD response only needs the size.
func serveFile(p string, info fs.FileInfo, head bool) (*webserv.Response, error) {
	resp := webserv.NewResponse(webserv.CodeOK, ContentType(p), nil)
	resp.Length = info.Size()
	if head {
		resp.NoBody = true
		return resp, nil
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, webserv.NewError(webserv.CodeForbidden, errors.Wrapf(err, "failed to open %q", p))
	}
	resp.Stream = f
	return resp, nil
}

// File opens the file at p as a response with the given code. It is used for configured error pages.
func File(code webserv.Code, p string) (*webserv.Response, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, statError(err, p)
	}
	if !info.Mode().IsRegular() {
		return nil, webserv.Errorf(webserv.CodeNotFound, "%q is not a regular file", p)
	}
	resp, err := serveFile(p, info, false)
	if err != nil {
		return nil, err
	}
	resp.Code = code
	return resp, nil
}

func statError(err error, p string) error {
	code := webserv.CodeNotFound
	if errors.Is(err, fs.ErrPermission) {
		code = webserv.CodeForbidden
	}
	return webserv.NewError(code, errors.Wrapf(err, "failed to stat %q", p))
}
