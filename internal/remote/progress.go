package remote

import "context"

// ProgressFunc receives operation status transitions as a session moves
// through connect, execute, and parse. Used by the operation tracker; the
// executor calls it best-effort and never blocks on it.
type ProgressFunc func(status string)

type progressKey struct{}

// WithProgress attaches a transition observer to the context.
func WithProgress(ctx context.Context, f ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, f)
}

// Progress reports a transition to the attached observer, if any.
func Progress(ctx context.Context, status string) {
	if f, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && f != nil {
		f(status)
	}
}
