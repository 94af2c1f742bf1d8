package middleware

import (
	"context"

	"payrun/internal/requestctx"
)

type ctxKey string

const ctxKeyUser ctxKey = "user"

// UserContext is the authenticated identity placed on the request context by
// the Auth middleware.
type UserContext struct {
	UserID    string
	RoleID    string
	RoleName  string
	SessionID string
}

func GetUser(ctx context.Context) (UserContext, bool) {
	user, ok := ctx.Value(ctxKeyUser).(UserContext)
	return user, ok
}

func GetRequestID(ctx context.Context) string {
	return requestctx.GetRequestID(ctx)
}
