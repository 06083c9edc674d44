package service

import (
	"context"
	"sync/atomic"
)

// interruptKey is the private context key for a run's interrupt flag.
type interruptKey struct{}

// WithInterruptFlag attaches an atomic flag the caller can set to request a
// graceful stop (first SIGINT) without cancelling ctx outright (reserved for
// a second SIGINT / hard stop). Mirrors WithTraceID's context-value idiom.
func WithInterruptFlag(ctx context.Context, flag *atomic.Bool) context.Context {
	return context.WithValue(ctx, interruptKey{}, flag)
}

// interruptRequested reports whether the run's interrupt flag, if any, has
// been set.
func interruptRequested(ctx context.Context) bool {
	if flag, ok := ctx.Value(interruptKey{}).(*atomic.Bool); ok {
		return flag.Load()
	}
	return false
}
