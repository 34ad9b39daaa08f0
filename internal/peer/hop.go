package peer

import (
	"context"
	"net/http"
)

// HopHeader marks a request that is itself a peer fallback call. An instance
// receiving it must answer from local state only.
const HopHeader = "X-Peer-Fallback"

type hopKey struct{}

func WithHop(ctx context.Context) context.Context {
	return context.WithValue(ctx, hopKey{}, true)
}

func IsHop(ctx context.Context) bool {
	v, _ := ctx.Value(hopKey{}).(bool)
	return v
}

// HopMiddleware copies the loop marker from the request header into the
// request context.
func HopMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HopHeader) != "" {
			r = r.WithContext(WithHop(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}
