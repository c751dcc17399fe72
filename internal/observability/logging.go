// Package observability carries build identity through context.Context so
// every log line emitted inside a build can be correlated.
package observability

import (
	"context"
	"log/slog"
)

// LogContext holds structured logging context information.
type LogContext struct {
	Project string
	Version string
	BuildID string
	Phase   string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithProject adds a project slug to the context.
func WithProject(ctx context.Context, slug string) context.Context {
	lc := extractLogContext(ctx)
	lc.Project = slug
	return context.WithValue(ctx, logContextKey, lc)
}

// WithVersion adds a version slug to the context.
func WithVersion(ctx context.Context, slug string) context.Context {
	lc := extractLogContext(ctx)
	lc.Version = slug
	return context.WithValue(ctx, logContextKey, lc)
}

// WithBuildID adds a build ID to the context.
func WithBuildID(ctx context.Context, id string) context.Context {
	lc := extractLogContext(ctx)
	lc.BuildID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithPhase adds the current pipeline phase to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	lc := extractLogContext(ctx)
	lc.Phase = phase
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// Attrs returns slog attributes derived from the context's LogContext.
func Attrs(ctx context.Context) []any {
	lc := extractLogContext(ctx)
	attrs := make([]any, 0, 4)
	if lc.Project != "" {
		attrs = append(attrs, slog.String("project", lc.Project))
	}
	if lc.Version != "" {
		attrs = append(attrs, slog.String("version", lc.Version))
	}
	if lc.BuildID != "" {
		attrs = append(attrs, slog.String("build_id", lc.BuildID))
	}
	if lc.Phase != "" {
		attrs = append(attrs, slog.String("phase", lc.Phase))
	}
	return attrs
}

// Logger returns the default logger pre-populated with context attrs.
func Logger(ctx context.Context) *slog.Logger {
	return slog.Default().With(Attrs(ctx)...)
}
