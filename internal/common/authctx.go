package common

import "context"

type ctxKey string

const (
	userIDKey ctxKey = "auth/user-id"
	tokenKey  ctxKey = "auth/token"
)

// WithUserID stores the authenticated user identifier on ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the authenticated user identifier, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithBearer stores the raw bearer token the request was authenticated with.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// Bearer returns the raw bearer token stored by WithBearer.
func Bearer(ctx context.Context) string {
	v, _ := ctx.Value(tokenKey).(string)
	return v
}
