package tenant

import (
	"context"
	"encoding/json"
	"net/http"
)

type resolutionKey struct{}

// ContextWithResolution returns a context carrying res.
func ContextWithResolution(ctx context.Context, res Resolution) context.Context {
	return context.WithValue(ctx, resolutionKey{}, res)
}

// FromContext returns the resolution stored by Middleware, or NoTenant.
func FromContext(ctx context.Context) Resolution {
	if res, ok := ctx.Value(resolutionKey{}).(Resolution); ok {
		return res
	}
	return Resolution{Kind: NoTenant}
}

// Middleware resolves the request host on every request. It never rejects.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := resolver.Resolve(r.Host)
			next.ServeHTTP(w, r.WithContext(ContextWithResolution(r.Context(), res)))
		})
	}
}

// RequireTenant rejects requests that were not made on a school subdomain.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).HasTenant() {
			writeError(w, http.StatusNotFound, "tenant_required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireMarketing rejects requests made on a school subdomain.
func RequireMarketing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).HasTenant() {
			writeError(w, http.StatusNotFound, "marketing_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
