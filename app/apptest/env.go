package apptest

import (
	"testing"
)

// Env provides a chainable builder for setting [app.Environment] env vars via t.Setenv. Create one with
// [SetBaseEnv].
type Env struct {
	t testing.TB
}

// SetBaseEnv sets every [app.Environment] env var to a test default. The configuration file is required because each
// test binds its own ports.
//
// Defaults:
//   - WEBSERV_LOG_LEVEL: "debug"
//   - WEBSERV_MULTIPLEX: "poll"
//   - WEBSERV_POLL_TIMEOUT: "20ms"
//   - WEBSERV_CGI_TIMEOUT: "2s"
//   - WEBSERV_METRICS_ADDR: "" (disabled)
//   - WEBSERV_OTEL_EXPORTER: "none"
//   - WEBSERV_SERVICE_NAME: "test"
func SetBaseEnv(t testing.TB, configPath string) *Env {
	t.Helper()
	t.Setenv("WEBSERV_CONFIG", configPath)
	t.Setenv("WEBSERV_LOG_LEVEL", "debug")
	t.Setenv("WEBSERV_MULTIPLEX", "poll")
	t.Setenv("WEBSERV_POLL_TIMEOUT", "20ms")
	t.Setenv("WEBSERV_CGI_TIMEOUT", "2s")
	t.Setenv("WEBSERV_METRICS_ADDR", "")
	t.Setenv("WEBSERV_OTEL_EXPORTER", "none")
	t.Setenv("WEBSERV_SERVICE_NAME", "test")
	return &Env{t: t}
}

// LogLevel overrides WEBSERV_LOG_LEVEL.
func (e *Env) LogLevel(level string) *Env {
	e.t.Helper()
	e.t.Setenv("WEBSERV_LOG_LEVEL", level)
	return e
}

// Multiplex overrides WEBSERV_MULTIPLEX.
func (e *Env) Multiplex(backend string) *Env {
	e.t.Helper()
	e.t.Setenv("WEBSERV_MULTIPLEX", backend)
	return e
}

// PollTimeout overrides WEBSERV_POLL_TIMEOUT.
func (e *Env) PollTimeout(d string) *Env {
	e.t.Helper()
	e.t.Setenv("WEBSERV_POLL_TIMEOUT", d)
	return e
}

// CGITimeout overrides WEBSERV_CGI_TIMEOUT.
func (e *Env) CGITimeout(d string) *Env {
	e.t.Helper()
	e.t.Setenv("WEBSERV_CGI_TIMEOUT", d)
	return e
}

// MetricsAddr overrides WEBSERV_METRICS_ADDR.
func (e *Env) MetricsAddr(addr string) *Env {
	e.t.Helper()
	e.t.Setenv("WEBSERV_METRICS_ADDR", addr)
	return e
}

// OtelExporter overrides WEBSERV_OTEL_EXPORTER.
func (e *Env) OtelExporter(exporter string) *Env {
	e.t.Helper()
	e.t.Setenv("WEBSERV_OTEL_EXPORTER", exporter)
	return e
}
