package storage

import (
	"context"
	"time"
)

// SessionStore holds session tokens, login rate-limit counters and web-push
// subscriptions. Implementations: redis.Client, memory.Client (for -dev runs
// without Redis).
type SessionStore interface {
	SetSession(ctx context.Context, token, userID string, ttl time.Duration) error
	GetSession(ctx context.Context, token string) (string, error)
	DeleteSession(ctx context.Context, token string) error
	CheckLoginRateLimit(ctx context.Context, email string) (allowed bool, err error)
	AddPushSubscription(ctx context.Context, userID, subscription string) error
	RemovePushSubscription(ctx context.Context, userID, endpoint string) error
	GetPushSubscriptions(ctx context.Context, userID string) ([]string, error)
	Close() error
}
