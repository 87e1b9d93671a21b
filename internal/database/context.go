package database

import (
	"context"
	"time"
)

type timeoutKey struct{ write bool }

// WithReadTimeout overrides DB_QUERY_TIMEOUT for reads made with ctx.
func WithReadTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

// WithWriteTimeout overrides DB_EXECUTE_TIMEOUT for writes made with ctx.
func WithWriteTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{write: true}, d)
}

type timeouts interface {
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

func readContext(ctx context.Context, t timeouts) (context.Context, context.CancelFunc) {
	return bounded(ctx, timeoutKey{}, t.GetDBQueryTimeout())
}

func writeContext(ctx context.Context, t timeouts) (context.Context, context.CancelFunc) {
	return bounded(ctx, timeoutKey{write: true}, t.GetDBExecuteTimeout())
}

// bounded applies the override stored under key, else def. A non-positive
// result leaves ctx's own deadline in charge.
func bounded(ctx context.Context, key timeoutKey, def time.Duration) (context.Context, context.CancelFunc) {
	d := def
	if v, ok := ctx.Value(key).(time.Duration); ok && v > 0 {
		d = v
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
