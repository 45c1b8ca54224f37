package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const ctxCallerKey contextKey = "caller"

// TokenValidator resolves a bearer token to the caller's account id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// BearerAuth authenticates requests by validating the Bearer token and
// setting the caller's account id into request context. Membership on the
// target workspace is NOT checked here: that belongs to the admission path,
// which verifies it atomically with the charge.
func BearerAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			accountID, err := validator.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxCallerKey, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromCtx returns the authenticated account id, or uuid.Nil.
func CallerFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxCallerKey).(uuid.UUID)
	return id
}

// WithCaller returns a context carrying the given account id.
func WithCaller(ctx context.Context, accountID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxCallerKey, accountID)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
