package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"onboarding-service/internal/client"
	"onboarding-service/internal/model"
	"onboarding-service/internal/util"
)

const verifyCodePrefix = "verify_code:"

var ErrCodeNotFound = errors.New("verification code not found")

// VerificationCache holds one-time resume codes. The key shape enforces the
// single-active-code rule: one record per (tracker, purpose), replaced on
// every issue.
type VerificationCache struct {
	client *client.RedisClient
}

func NewVerificationCache(client *client.RedisClient) *VerificationCache {
	return &VerificationCache{client: client}
}

func codeKey(trackerID, purpose string) string {
	return verifyCodePrefix + trackerID + ":" + purpose
}

// Store writes the code record, replacing any previous code for the same
// tracker and purpose.
func (c *VerificationCache) Store(code *model.VerificationCode, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal verification code: %w", err)
	}

	key := codeKey(code.TrackerID, code.Purpose)
	if err := c.client.Set(ctx, key, data, ttl); err != nil {
		util.Error("Failed to store verification code",
			zap.String("tracker_id", code.TrackerID),
			zap.String("purpose", code.Purpose),
			zap.Error(err))
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	util.Debug("Verification code stored",
		zap.String("tracker_id", code.TrackerID),
		zap.String("purpose", code.Purpose),
		zap.Duration("ttl", ttl))

	return nil
}

func (c *VerificationCache) Get(trackerID, purpose string) (*model.VerificationCode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, codeKey(trackerID, purpose))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get verification code: %w", err)
	}

	var code model.VerificationCode
	if err := json.Unmarshal([]byte(data), &code); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification code: %w", err)
	}
	return &code, nil
}

// IncrementAttempts bumps the attempt counter without extending the code's
// remaining lifetime.
func (c *VerificationCache) IncrementAttempts(code *model.VerificationCode) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code.Attempts++

	key := codeKey(code.TrackerID, code.Purpose)
	ttl, err := c.client.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return ErrCodeNotFound
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal verification code: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("failed to update verification code attempts: %w", err)
	}

	util.Debug("Verification attempt recorded",
		zap.String("tracker_id", code.TrackerID),
		zap.Int("attempts", code.Attempts),
		zap.Int("max_attempts", code.MaxAttempts))

	return nil
}

func (c *VerificationCache) Delete(trackerID, purpose string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, codeKey(trackerID, purpose)); err != nil {
		return fmt.Errorf("failed to delete verification code: %w", err)
	}
	return nil
}

// DeleteByTracker removes every purpose's code for a tracker. Used by the
// cleanup cascade.
func (c *VerificationCache) DeleteByTracker(trackerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, _, err := c.client.Scan(ctx, 0, verifyCodePrefix+trackerID+":*", 100)
	if err != nil {
		return fmt.Errorf("failed to scan verification codes: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete verification codes: %w", err)
	}
	return nil
}
