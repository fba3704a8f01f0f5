package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/advdv/webserv/config"
	"github.com/advdv/webserv/router"
	"github.com/advdv/webserv/server"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// LoadConfig reads the configuration file named by the environment. Files ending in .json hold a JSON directive
// tree, everything else uses the directive grammar.
func LoadConfig(env Environment, logs *zap.Logger) (*config.Config, error) {
	load := config.Load
	if strings.EqualFold(filepath.Ext(env.Config), ".json") {
		load = config.LoadJSON
	}
	cfg, err := load(env.Config)
	if err != nil {
		return nil, err
	}
	logs.Named("config").Info("loaded configuration",
		zap.String("path", env.Config), zap.Int("servers", len(cfg.Servers)))
	return cfg, nil
}

// NewRegistry creates the registry every collector of the process registers with.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ServerParams holds the dependencies of the loop.
type ServerParams struct {
	fx.In

	Env        Environment
	Logger     *zap.Logger
	Table      *router.Table
	Metrics    *server.Metrics
	TracerProv trace.TracerProvider
}

// NewServer creates the loop for the configured virtual hosts.
func NewServer(params ServerParams) (*server.Server, error) {
	return server.New(params.Logger, params.Table, server.Options{
		Backend:     params.Env.Multiplex,
		PollTimeout: params.Env.PollTimeout,
		CGITimeout:  params.Env.CGITimeout,
	}, params.Metrics, params.TracerProv)
}

// startServerHook binds the listening sockets on start and runs the loop in its own goroutine. A loop that fails
// shuts the whole application down.
func startServerHook(lc fx.Lifecycle, sd fx.Shutdowner, srv *server.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := srv.Listen(); err != nil {
				return errors.Wrap(err, "failed to listen")
			}
			logger.Info("starting server", zap.Stringers("addrs", srv.Addrs()))
			go func() {
				if err := srv.Run(context.Background()); err != nil {
					logger.Error("server error", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping server")
			return srv.Stop(ctx)
		},
	})
}

// startMetricsHook serves the registry on WEBSERV_METRICS_ADDR, when set.
func startMetricsHook(lc fx.Lifecycle, env Environment, reg *prometheus.Registry, logger *zap.Logger) {
	if env.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", env.MetricsAddr)
			if err != nil {
				return errors.Wrapf(err, "failed to listen for metrics on %q", env.MetricsAddr)
			}
			logger.Info("serving metrics", zap.Stringer("addr", ln.Addr()))
			go func() {
				if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return hs.Shutdown(ctx)
		},
	})
}
