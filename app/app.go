// Package app wires the web server together: environment, logging, tracing, metrics and the loop's lifecycle.
package app

import (
	"context"

	"github.com/advdv/webserv/router"
	"github.com/advdv/webserv/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// App wraps an fx.App for lifecycle management.
type App struct {
	app *fx.App
}

// FxOptions returns the dependency graph of the server. It is shared by [NewApp] and the apptest package.
func FxOptions(opts ...Option) []fx.Option {
	return []fx.Option{
		fx.NopLogger,
		fx.Provide(ParseEnv(opts...)),
		fx.Provide(NewLogger),
		fx.Provide(NewTracerProvider),
		fx.Provide(NewRegistry),
		fx.Provide(func(reg *prometheus.Registry) *server.Metrics { return server.NewMetrics(reg) }),
		fx.Provide(LoadConfig),
		fx.Provide(router.New),
		fx.Provide(NewServer),
		fx.Invoke(Describe),
		fx.Invoke(startMetricsHook),
		fx.Invoke(startServerHook),
	}
}

// NewApp creates the application. Environment values can be overridden with opts.
func NewApp(opts ...Option) *App {
	return &App{app: fx.New(FxOptions(opts...)...)}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() {
	a.app.Run()
}

// Err reports a failure to build the dependency graph.
func (a *App) Err() error {
	return a.app.Err()
}

// Start starts the application and blocks until ctx is done, then stops it.
func (a *App) Start(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.app.StopTimeout())
	defer cancel()

	return a.app.Stop(stopCtx)
}

// Describe logs the effective environment at debug level.
func Describe(logs *zap.Logger, env Environment) {
	logs.Debug("environment",
		zap.String("config", env.Config),
		zap.Stringer("log_level", env.LogLevel),
		zap.String("multiplex", env.Multiplex),
		zap.Duration("poll_timeout", env.PollTimeout),
		zap.Duration("cgi_timeout", env.CGITimeout),
		zap.String("metrics_addr", env.MetricsAddr),
		zap.String("otel_exporter", env.OtelExporter))
}
