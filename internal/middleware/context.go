package middleware

import "context"

type contextKey string

const (
	UserIDKey       contextKey = "user_id"
	SessionTokenKey contextKey = "session_token"
)

// GetUserID returns the user_id from the context (set by SessionAuth).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetSessionToken returns the raw session token from the context (set by
// SessionAuth). Used by logout to revoke the current session.
func GetSessionToken(ctx context.Context) string {
	v, _ := ctx.Value(SessionTokenKey).(string)
	return v
}
