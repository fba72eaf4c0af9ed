package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter decides whether another code may be sent to a phone number.
type RateLimiter interface {
	Allow(ctx context.Context, phoneNumber string) (bool, error)
}

// RedisRateLimiter is a fixed-window counter per phone number.
type RedisRateLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	logger *logrus.Logger
}

func NewRedisRateLimiter(client redis.UniversalClient, limit int, window time.Duration, logger *logrus.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, phoneNumber string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("sms_send:%s", phoneNumber)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.WithError(err).Error("Failed to update send counter in Redis")
		return false, fmt.Errorf("failed to update send counter: %w", err)
	}

	return incr.Val() <= int64(l.limit), nil
}

// NoopRateLimiter never throttles.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(context.Context, string) (bool, error) {
	return true, nil
}
