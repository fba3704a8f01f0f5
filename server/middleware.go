package server

import (
	"context"
	"strconv"
	"time"

	"github.com/advdv/webserv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// TracerName names the tracer that records request spans.
const TracerName = "github.com/advdv/webserv/server"

// codeLabel describes the outcome of a handler call. A deferred CGI response has no code yet.
func codeLabel(resp *webserv.Response, err error) string {
	switch {
	case err != nil:
		code := webserv.CodeOf(err)
		if code == webserv.CodeUnknown {
			code = webserv.CodeInternalServerError
		}
		return strconv.Itoa(int(code))
	case resp == nil:
		return "cgi"
	default:
		return strconv.Itoa(int(resp.Code))
	}
}

// withTracing records a span per request. Without a provider no spans are recorded.
func withTracing(tp trace.TracerProvider) Middleware {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	tracer := tp.Tracer(TracerName)

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, x *Exchange) (*webserv.Response, error) {
			ctx, span := tracer.Start(ctx, x.Request.Method+" "+x.Request.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", x.Request.Method),
					attribute.String("url.path", x.Request.Path),
					attribute.String("url.query", x.Request.RawQuery),
					attribute.String("server.address", x.Request.Host()),
					attribute.String("client.address", x.Conn.Remote.Addr().String()),
					attribute.String("webserv.location", x.Location.Path),
				))
			defer span.End()

			resp, err := next.ServeWebserv(ctx, x)
			span.SetAttributes(attribute.String("webserv.outcome", codeLabel(resp, err)))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return resp, err
		})
	}
}

func withMetrics(m *Metrics) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, x *Exchange) (*webserv.Response, error) {
			start := time.Now()
			resp, err := next.ServeWebserv(ctx, x)
			m.Duration.WithLabelValues(x.Request.Method).Observe(time.Since(start).Seconds())
			m.Requests.WithLabelValues(x.Request.Method, codeLabel(resp, err)).Inc()
			return resp, err
		})
	}
}

// withLogging logs one line per handled request.
func withLogging(logs *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, x *Exchange) (*webserv.Response, error) {
			resp, err := next.ServeWebserv(ctx, x)
			logs.Info("handled request",
				zap.Int("fd", x.Conn.Fd),
				zap.String("method", x.Request.Method),
				zap.String("path", x.Request.Path),
				zap.String("host", x.Request.Host()),
				zap.Stringer("vhost", x.Host),
				zap.Stringer("location", x.Location),
				zap.String("outcome", codeLabel(resp, err)))
			return resp, err
		})
	}
}
