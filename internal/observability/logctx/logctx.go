// Package logctx carries a request or event scoped logger on a context.
package logctx

import (
	"context"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
)

type loggerKey struct{}

func With(ctx context.Context, logger observability.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Enrich stores the context logger, or fallback when there is none, extended
// with fields.
func Enrich(ctx context.Context, fallback observability.Logger, fields ...observability.Field) context.Context {
	logger := FromOr(ctx, fallback)
	if logger == nil {
		return ctx
	}
	return With(ctx, logger.With(fields...))
}

func From(ctx context.Context) observability.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey{}).(observability.Logger)
	return logger
}

// FromOr returns the context logger, or fallback when none is set.
func FromOr(ctx context.Context, fallback observability.Logger) observability.Logger {
	if logger := From(ctx); logger != nil {
		return logger
	}
	return fallback
}
