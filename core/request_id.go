package core

import (
	"context"
	"strings"
)

type requestIDKey struct{}

// ContextWithRequestID tags ctx so log lines for the request can be correlated.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	requestID, ok := ctx.Value(requestIDKey{}).(string)
	return requestID, ok && requestID != ""
}

type heldLockKey struct{}

// ContextWithHeldLock records the aggregate lock held while a handler runs.
func ContextWithHeldLock(ctx context.Context, lockKey string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	lockKey = strings.TrimSpace(lockKey)
	if lockKey == "" {
		return ctx
	}
	return context.WithValue(ctx, heldLockKey{}, lockKey)
}

func HeldLockFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	lockKey, ok := ctx.Value(heldLockKey{}).(string)
	return lockKey, ok && lockKey != ""
}
