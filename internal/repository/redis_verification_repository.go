package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/models"
)

// RedisVerificationRepository keeps verification records as JSON values
// under "verification:<phone>". SET replaces the value atomically, and the
// key TTL is the physical retention, not the validity window.
type RedisVerificationRepository struct {
	client    redis.UniversalClient
	retention time.Duration
	logger    *logrus.Logger
}

func NewRedisVerificationRepository(client redis.UniversalClient, retention time.Duration, logger *logrus.Logger) *RedisVerificationRepository {
	return &RedisVerificationRepository{
		client:    client,
		retention: retention,
		logger:    logger,
	}
}

func verificationKey(phoneNumber string) string {
	return fmt.Sprintf("verification:%s", phoneNumber)
}

func (r *RedisVerificationRepository) Upsert(ctx context.Context, v *models.Verification) error {
	dataJSON, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verification: %w", err)
	}

	if err := r.client.Set(ctx, verificationKey(v.PhoneNumber), dataJSON, r.retention).Err(); err != nil {
		r.logger.WithError(err).Error("Failed to store verification in Redis")
		return fmt.Errorf("failed to store verification: %w", err)
	}

	return nil
}

func (r *RedisVerificationRepository) Get(ctx context.Context, phoneNumber string) (*models.Verification, error) {
	dataJSON, err := r.client.Get(ctx, verificationKey(phoneNumber)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to get verification from Redis")
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	var v models.Verification
	if err := json.Unmarshal(dataJSON, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification: %w", err)
	}

	return &v, nil
}
