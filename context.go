package goSession

import "context"

type replaySafeContextKey struct{}

// WithReplaySafe marks requests executed with ctx as safe to reissue once
// after a 401, whatever their method. Without it only GET, HEAD, OPTIONS,
// PUT and DELETE are replayed; a POST that hits a 401 is refreshed for but
// not resent, and the caller gets [ErrNotReplayed].
func WithReplaySafe(ctx context.Context) context.Context {
	return context.WithValue(ctx, replaySafeContextKey{}, true)
}

func replaySafeFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	ok, _ := ctx.Value(replaySafeContextKey{}).(bool)
	return ok
}
