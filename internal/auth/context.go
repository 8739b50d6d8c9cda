package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxCRMToken ctxKey = iota
)

const ginCRMTokenKey = "crm_token"

// WithCRMToken stores the caller's CRM token on ctx.
func WithCRMToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxCRMToken, token)
}

// CRMToken returns the token injected by RequireCRMToken.
func CRMToken(ctx context.Context) (string, error) {
	v := ctx.Value(ctxCRMToken)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("crm token not in context")
}
