package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxAlias
)

func WithIdentity(ctx context.Context, userID, alias string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxAlias, alias)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

// Alias returns the display handle, or "" for participants without one.
func Alias(ctx context.Context) string {
	v := ctx.Value(ctxAlias)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
