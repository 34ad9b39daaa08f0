// Package correlation carries the correlation id of one logical request or
// event chain through context values, HTTP headers and AMQP headers.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderName is used for both HTTP and AMQP message headers.
const HeaderName = "X-Correlation-Id"

type contextKey struct{}

// WithID returns a copy of ctx carrying id. An empty id leaves ctx unchanged.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the correlation id in ctx, or "".
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// Ensure returns ctx with a correlation id attached. created reports whether
// the id was generated by this call rather than inherited from ctx.
func Ensure(ctx context.Context) (_ context.Context, id string, created bool) {
	if id := FromContext(ctx); id != "" {
		return ctx, id, false
	}
	id = NewID()
	return WithID(ctx, id), id, true
}

func NewID() string {
	return uuid.NewString()
}

// Middleware is the HTTP ingress boundary: it reuses the inbound header or
// generates a fresh id, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderName)
		if id == "" {
			id = NewID()
		}

		w.Header().Set(HeaderName, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}

// Inject copies the correlation id in ctx onto an outbound request.
func Inject(ctx context.Context, req *http.Request) {
	if id := FromContext(ctx); id != "" {
		req.Header.Set(HeaderName, id)
	}
}
