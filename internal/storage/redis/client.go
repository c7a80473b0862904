package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Login rate limit: 10 attempts / 10 minutes per email.
const (
	LoginRateLimitWindow = 600
	LoginRateLimitMax    = 10
	maxSubsPerUser       = 10
	subscriptionTTL      = 30 * 24 * 3600
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetSession stores token -> userID under session:{token} with the given TTL.
func (c *Client) SetSession(ctx context.Context, token, userID string, ttl time.Duration) error {
	return c.cli.Set(ctx, "session:"+token, userID, ttl).Err()
}

// GetSession returns the user id for a token, or "" when absent/expired.
func (c *Client) GetSession(ctx context.Context, token string) (string, error) {
	val, err := c.cli.Get(ctx, "session:"+token).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteSession(ctx context.Context, token string) error {
	return c.cli.Del(ctx, "session:"+token).Err()
}

// CheckLoginRateLimit checks login_limit:{email}: at most LoginRateLimitMax
// attempts per window. Exceeding it maps to HTTP 429 at the boundary.
func (c *Client) CheckLoginRateLimit(ctx context.Context, email string) (allowed bool, err error) {
	key := "login_limit:" + email
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, LoginRateLimitWindow*time.Second)
	}
	return n <= int64(LoginRateLimitMax), nil
}

// AddPushSubscription appends a subscription to push:subs:{userID}, capped
// to the newest maxSubsPerUser entries.
func (c *Client) AddPushSubscription(ctx context.Context, userID, subscription string) error {
	key := "push:subs:" + userID
	pipe := c.cli.Pipeline()
	pipe.RPush(ctx, key, subscription)
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL*time.Second)
	_, err := pipe.Exec(ctx)
	return err
}

// RemovePushSubscription drops the subscription with the given endpoint.
func (c *Client) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	key := "push:subs:" + userID
	list, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	var kept []string
	for _, item := range list {
		var sub struct {
			Endpoint string `json:"endpoint"`
		}
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	if err := c.cli.Del(ctx, key).Err(); err != nil {
		return err
	}
	if len(kept) == 0 {
		return nil
	}
	for _, v := range kept {
		if err := c.cli.RPush(ctx, key, v).Err(); err != nil {
			return err
		}
	}
	return c.cli.Expire(ctx, key, subscriptionTTL*time.Second).Err()
}

func (c *Client) GetPushSubscriptions(ctx context.Context, userID string) ([]string, error) {
	return c.cli.LRange(ctx, "push:subs:"+userID, 0, -1).Result()
}

// FlushDB clears the current Redis database (sessions, rate limits,
// subscriptions) for tests or a hard reset.
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
