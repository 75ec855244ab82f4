package slogx

import (
	"context"
	"log/slog"

	"github.com/meridianhq/stepup/pkg/idx"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithAttempt scopes the context logger to one login or enrollment attempt.
// Every log line emitted while the attempt is live carries its ID, so a late
// response from a superseded attempt is attributable in the logs.
func WithAttempt(ctx context.Context, attemptID idx.ID) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("attempt_id", attemptID.String()))
}
