package middleware

import (
	"context"
	"net/http"

	uuid "github.com/satori/go.uuid"

	"github.com/optcgph/marketplace/escrow/model"
	"github.com/optcgph/marketplace/handlers"
)

type callerCtxKey struct{}

// Identity headers stamped by the edge gateway after it validates the
// session. The service trusts them, it never sees raw credentials.
const (
	UserIDHeaderKey     = "x-user-id"
	UserRoleHeaderKey   = "x-user-role"
	UserBannedHeaderKey = "x-user-banned"
)

// CallerContext reads the gateway identity headers into a model.Caller on the
// request context. Requests without a valid user id are rejected, every
// endpoint behind this middleware requires authentication.
func CallerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.FromString(r.Header.Get(UserIDHeaderKey))
		if err != nil {
			handlers.AppError{
				Message: http.StatusText(http.StatusUnauthorized),
				Code:    http.StatusUnauthorized,
			}.ServeHTTP(w, r)
			return
		}

		caller := model.Caller{
			ID:     id,
			Role:   model.Role(r.Header.Get(UserRoleHeaderKey)),
			Banned: r.Header.Get(UserBannedHeaderKey) == "true",
		}

		ctx := context.WithValue(r.Context(), callerCtxKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCaller returns the authenticated caller from the request context.
func GetCaller(r *http.Request) (model.Caller, *handlers.AppError) {
	caller, ok := r.Context().Value(callerCtxKey{}).(model.Caller)
	if !ok {
		return model.Caller{}, &handlers.AppError{
			Message: http.StatusText(http.StatusUnauthorized),
			Code:    http.StatusUnauthorized,
		}
	}

	return caller, nil
}

// WithCaller returns a context carrying the caller, used by tests to exercise
// handlers without the full middleware chain.
func WithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, caller)
}
