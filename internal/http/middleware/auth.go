package middleware

import (
	"context"
	"net/http"
	"strings"
)

const partnerRefContextKey contextKey = "partner_ref"

// Auth resolves the bearer token to a partner reference and stores it on the
// request context. With no configured keys every request is let through with
// an empty partner ref, which keeps local development friction-free.
func Auth(partnerKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			if len(partnerKeys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				writeUnauthorized(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			partnerRef, ok := partnerKeys[token]
			if token == "" || !ok {
				writeUnauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), partnerRefContextKey, partnerRef)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPartnerRef returns the partner reference resolved during authentication,
// or an empty string when authentication is disabled.
func GetPartnerRef(ctx context.Context) string {
	value, _ := ctx.Value(partnerRefContextKey).(string)
	return value
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"authentication required"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
}
