package webserv_test

import (
	"fmt"

	"github.com/advdv/webserv"
	"github.com/cockroachdb/errors"
)

func ExampleNewError() {
	err := webserv.NewError(webserv.CodeForbidden, errors.New("directory listing disabled"))
	fmt.Println(err)
	fmt.Println(err.Code())
	// Output:
	// Forbidden: directory listing disabled
	// 403
}

func ExampleCodeOf() {
	wrapped := errors.Wrap(webserv.Errorf(webserv.CodeGatewayTimeout, "cgi idle for %s", "5s"), "sweep")
	fmt.Println(webserv.CodeOf(wrapped))
	fmt.Println(webserv.CodeOf(errors.New("plain")))
	// Output:
	// 504
	// 0
}

func ExampleResponse_Head() {
	resp := webserv.NewTextResponse(webserv.CodeCreated, "ok")
	fmt.Printf("%q\n", resp.Head())
	// Output:
	// "HTTP/1.1 201 Created\r\nConnection: close\r\nContent-Length: 2\r\nContent-Type: text/html\r\n\r\n"
}

func ExampleNewRedirect() {
	resp := webserv.NewRedirect(webserv.CodeMovedPermanently, "/docs/")
	fmt.Println(webserv.StatusLine(resp.Code) == "HTTP/1.1 301 Moved Permanently\r\n")
	fmt.Println(resp.Header.Get("Location"), resp.Length)
	// Output:
	// true
	// /docs/ 0
}
