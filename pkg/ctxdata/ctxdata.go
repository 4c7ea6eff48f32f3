package ctxdata

import (
	"context"
)

type traceIDKey struct{}
type userIDKey struct{}
type userRoleKey struct{}
type clientKey struct{}

var (
	traceIDKeyInstance  = traceIDKey{}
	userIDKeyInstance   = userIDKey{}
	userRoleKeyInstance = userRoleKey{}
	clientKeyInstance   = clientKey{}
)

// Client describes where a request came from. It is recorded on audit events.
type Client struct {
	IP        string
	UserAgent string
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKeyInstance, traceID)
}

func GetTraceID(ctx context.Context) (string, bool) {
	v := ctx.Value(traceIDKeyInstance)
	traceID, ok := v.(string)
	return traceID, ok
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKeyInstance, userID)
}

func GetUserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKeyInstance)
	userID, ok := v.(string)
	return userID, ok
}

func WithUserRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, userRoleKeyInstance, role)
}

func GetUserRole(ctx context.Context) (string, bool) {
	v := ctx.Value(userRoleKeyInstance)
	role, ok := v.(string)
	return role, ok
}

func WithClient(ctx context.Context, client Client) context.Context {
	return context.WithValue(ctx, clientKeyInstance, client)
}

func GetClient(ctx context.Context) Client {
	client, _ := ctx.Value(clientKeyInstance).(Client)
	return client
}

// WithPrincipal is a shorthand for WithUserID followed by WithUserRole.
func WithPrincipal(ctx context.Context, userID, role string) context.Context {
	return WithUserRole(WithUserID(ctx, userID), role)
}
