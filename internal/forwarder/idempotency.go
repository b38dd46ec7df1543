package forwarder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicolu0/nexus-relay/pkg/logger"
	"github.com/nicolu0/nexus-relay/pkg/redis"
)

var (
	ErrAlreadyForwarded   = errors.New("forward already delivered")
	ErrLockAcquireFailed  = errors.New("failed to acquire forward lock")
	ErrMaxRetriesExceeded = errors.New("maximum forward retries exceeded")
)

// IdempotencyConfig tunes the redis-backed exactly-once guard around
// forward delivery.
type IdempotencyConfig struct {
	LockTTL time.Duration

	DeliveredTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	DeliveredKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		DeliveredTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "forward:retry:",
		LockKeyPrefix:      "forward:lock:",
		DeliveredKeyPrefix: "forward:delivered:",
	}
}

// IdempotencyService guards each forward job id with a short-term SETNX
// lock (no two consumers deliver the same forward concurrently) and a
// long-term delivered marker (a redelivered job is dropped, not re-sent).
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type DeliveryContext struct {
	ForwardID    string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
}

func (s *IdempotencyService) AcquireLock(ctx context.Context, forwardID string) (*DeliveryContext, error) {
	deliveredKey := s.config.DeliveredKeyPrefix + forwardID
	exists, err := s.redis.Exist(deliveredKey)
	if err != nil {
		logger.Warn("Failed to check delivered marker", "forward_id", forwardID, "error", err)
		// continue; a rare duplicate send beats a stalled queue
	} else if exists > 0 {
		return nil, ErrAlreadyForwarded
	}

	retryKey := s.config.RetryKeyPrefix + forwardID
	retryCountBytes, err := s.redis.Get(retryKey)
	retryCount := 0
	if err == nil && len(retryCountBytes) > 0 {
		fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	}

	if retryCount >= s.config.MaxRetries {
		logger.Error("Max retries exceeded for forward", "forward_id", forwardID, "retry_count", retryCount)
		return nil, fmt.Errorf("%w: forward_id=%s, retries=%d", ErrMaxRetriesExceeded, forwardID, retryCount)
	}

	lockKey := s.config.LockKeyPrefix + forwardID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("Failed to acquire forward lock", "forward_id", forwardID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		logger.Info("Forward lock held by another consumer", "forward_id", forwardID)
		return nil, ErrLockAcquireFailed
	}

	return &DeliveryContext{
		ForwardID:    forwardID,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
	}, nil
}

func (s *IdempotencyService) MarkDelivered(ctx context.Context, dc *DeliveryContext) error {
	deliveredKey := s.config.DeliveredKeyPrefix + dc.ForwardID
	err := s.redis.Set(deliveredKey, []byte("1"), s.config.DeliveredTTL)
	if err != nil {
		logger.Error("Failed to set delivered marker", "forward_id", dc.ForwardID, "error", err)
		return fmt.Errorf("failed to mark as delivered: %w", err)
	}

	s.cleanup(dc)

	logger.Info("Forward marked delivered", "forward_id", dc.ForwardID, "retry_count", dc.RetryCount)
	return nil
}

func (s *IdempotencyService) MarkFailed(ctx context.Context, dc *DeliveryContext, reason error) error {
	retryKey := s.config.RetryKeyPrefix + dc.ForwardID
	newRetryCount := dc.RetryCount + 1

	err := s.redis.Set(retryKey, []byte(fmt.Sprintf("%d", newRetryCount)), s.config.DeliveredTTL)
	if err != nil {
		logger.Error("Failed to increment forward retry counter", "forward_id", dc.ForwardID, "error", err)
	}

	lockKey := s.config.LockKeyPrefix + dc.ForwardID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to remove forward lock", "forward_id", dc.ForwardID, "error", err)
	}
	dc.lockAcquired = false

	logger.Warn("Forward failed, will retry",
		"forward_id", dc.ForwardID,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)

	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, dc *DeliveryContext) error {
	if dc == nil || !dc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + dc.ForwardID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to release forward lock", "forward_id", dc.ForwardID, "error", err)
		return err
	}

	dc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) cleanup(dc *DeliveryContext) {
	lockKey := s.config.LockKeyPrefix + dc.ForwardID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to cleanup forward lock", "forward_id", dc.ForwardID, "error", err)
	}

	retryKey := s.config.RetryKeyPrefix + dc.ForwardID
	if err := s.redis.Del(retryKey); err != nil {
		logger.Warn("Failed to cleanup forward retry counter", "forward_id", dc.ForwardID, "error", err)
	}

	dc.lockAcquired = false
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, forwardID string) (int, error) {
	retryCountBytes, err := s.redis.Get(s.config.RetryKeyPrefix + forwardID)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}

	retryCount := 0
	fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsDelivered(ctx context.Context, forwardID string) (bool, error) {
	exists, err := s.redis.Exist(s.config.DeliveredKeyPrefix + forwardID)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
