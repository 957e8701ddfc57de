package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/remember_outcome.lua
var rememberOutcomeScript string

type Client struct {
	rdb            *redis.Client
	rememberScript *redis.Script
	tokenTTL       time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, tokenTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:            rdb,
		rememberScript: redis.NewScript(rememberOutcomeScript),
		tokenTTL:       tokenTTL,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping validates Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// RememberOutcome atomically records the outcome for an idempotency token.
// Returns the previously stored outcome if the token was already seen, or
// "" when this call stored the outcome.
func (c *Client) RememberOutcome(ctx context.Context, ticketID, token, outcome string) (string, error) {
	key := tokenKey(ticketID, token)

	result, err := c.rememberScript.Run(ctx, c.rdb, []string{key},
		outcome, int(c.tokenTTL.Seconds())).Result()
	if err == redis.Nil {
		// Lua false surfaces as Nil: the token was unseen and is now stored.
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("remember outcome script failed: %w", err)
	}

	prior, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected script result type %T", result)
	}
	return prior, nil
}

// GetOutcome returns the cached outcome for a token, "" when unseen
func (c *Client) GetOutcome(ctx context.Context, ticketID, token string) (string, error) {
	outcome, err := c.rdb.Get(ctx, tokenKey(ticketID, token)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func tokenKey(ticketID, token string) string {
	return fmt.Sprintf("checkin:token:%s:%s", ticketID, token)
}
