package app

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

// Environment is the process configuration read from WEBSERV_* variables. The server configuration itself lives in
// the file named by Config.
type Environment struct {
	Config       string        `env:"WEBSERV_CONFIG" envDefault:"conf/default.conf"`
	LogLevel     zapcore.Level `env:"WEBSERV_LOG_LEVEL" envDefault:"info"`
	Multiplex    string        `env:"WEBSERV_MULTIPLEX" envDefault:"poll"`
	PollTimeout  time.Duration `env:"WEBSERV_POLL_TIMEOUT" envDefault:"1s"`
	CGITimeout   time.Duration `env:"WEBSERV_CGI_TIMEOUT" envDefault:"5s"`
	MetricsAddr  string        `env:"WEBSERV_METRICS_ADDR"`
	OtelExporter string        `env:"WEBSERV_OTEL_EXPORTER" envDefault:"none"`
	ServiceName  string        `env:"WEBSERV_SERVICE_NAME" envDefault:"webserv"`
}

// ParseEnv parses the environment, then applies opts on top of it.
func ParseEnv(opts ...Option) func() (Environment, error) {
	return func() (e Environment, err error) {
		if err := env.Parse(&e); err != nil {
			return e, errors.Wrap(err, "failed to parse environment")
		}
		for _, opt := range opts {
			opt(&e)
		}
		return e, nil
	}
}

// Option overrides a value of the environment, usually from a command line flag.
type Option func(*Environment)

// WithConfig sets the configuration file.
func WithConfig(path string) Option {
	return func(e *Environment) { e.Config = path }
}

// WithLogLevel sets the log level.
func WithLogLevel(level zapcore.Level) Option {
	return func(e *Environment) { e.LogLevel = level }
}

// WithMultiplex selects the readiness backend.
func WithMultiplex(backend string) Option {
	return func(e *Environment) { e.Multiplex = backend }
}
