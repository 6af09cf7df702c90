package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithOpenID adds the end-user openid to the context.
func WithOpenID(ctx context.Context, openid string) context.Context {
	return context.WithValue(ctx, ContextKeyOpenID, openid)
}

// WithAccount adds the serving account email to the context.
func WithAccount(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, ContextKeyAccount, email)
}

// GenerateRequestID generates a new request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}
