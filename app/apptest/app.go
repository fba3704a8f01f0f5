// Package apptest provides test helpers for the web server application.
//
// It constructs the identical DI graph as [app.NewApp] but uses [fxtest.App] which fails the test immediately on DI
// errors.
//
// Example:
//
//	apptest.SetBaseEnv(t, "testdata/site.conf").PollTimeout("20ms")
//	a := apptest.New(t)
//	a.RequireStart()
//	t.Cleanup(a.RequireStop)
package apptest

import (
	"testing"

	"github.com/advdv/webserv/app"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// App embeds *fxtest.App for testing the application.
type App struct {
	*fxtest.App
}

// New creates a test app with the same DI graph as [app.NewApp]. Extra fx options, such as fx.Populate, are added
// after the base graph.
func New(t testing.TB, extra []fx.Option, opts ...app.Option) *App {
	return &App{App: fxtest.New(t, append(app.FxOptions(opts...), extra...)...)}
}
