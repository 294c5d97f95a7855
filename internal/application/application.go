// Package application holds the use case contract shared by the service's
// entry points.
package application

import "context"

// UseCase runs one command. Implementations own their span, metrics and the
// single completion log line.
type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

// UseCaseFunc adapts a plain function to UseCase.
type UseCaseFunc[C any, R any] func(ctx context.Context, cmd C) (R, error)

func (f UseCaseFunc[C, R]) Execute(ctx context.Context, cmd C) (R, error) {
	return f(ctx, cmd)
}
