package finance

import (
	"context"

	"github.com/google/uuid"
)

type idempotencyCtxKey struct{}

// WithIdempotencyKey scopes POST idempotency keys to one logical operation.
// Every POST made with the returned context sends a key derived from
// operation, method and path, so a resubmission of the same operation reuses
// the keys of the first attempt.
func WithIdempotencyKey(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, idempotencyCtxKey{}, operation)
}

// IdempotencyKeyFrom returns the operation set with WithIdempotencyKey.
func IdempotencyKeyFrom(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(idempotencyCtxKey{}).(string)
	return op, ok && op != ""
}

// idempotencyKey returns a stable key for the request when ctx carries an
// operation, and a random one otherwise.
func idempotencyKey(ctx context.Context, method, path string) string {
	op, ok := IdempotencyKeyFrom(ctx)
	if !ok {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(op+" "+method+" "+path)).String()
}
