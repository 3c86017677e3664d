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

const (
	sessionDataPrefix   = "session_data:"
	activeSessionPrefix = "active_session:"
)

// ErrSessionNotFound means no record exists at all: never created, or evicted
// after sitting expired for a full retention window.
var ErrSessionNotFound = errors.New("session not found")

// SessionCache stores server-side session records. Records are kept for twice
// the sliding window so an expired session is still distinguishable from one
// that never existed.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

// retention is how long the raw record lives in Redis. ExpiresAt inside the
// record carries the logical expiry.
func retention(slidingWindow time.Duration) time.Duration {
	return 2 * slidingWindow
}

// Store writes the session record and points the tracker at it.
func (c *SessionCache) Store(session *model.Session, slidingWindow time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := retention(slidingWindow)

	pipe := c.client.Pipeline()
	pipe.Set(ctx, sessionDataPrefix+session.SessionID, data, ttl)
	pipe.Set(ctx, activeSessionPrefix+session.TrackerID, session.SessionID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store session",
			zap.String("session_id", session.SessionID),
			zap.String("tracker_id", session.TrackerID),
			zap.Error(err))
		return fmt.Errorf("failed to store session: %w", err)
	}

	util.Debug("Session stored",
		zap.String("session_id", session.SessionID),
		zap.String("tracker_id", session.TrackerID),
		zap.Duration("retention", ttl))

	return nil
}

// Get returns the raw session record, expired or revoked included. Callers
// decide what the record's state means.
func (c *SessionCache) Get(sessionID string) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, sessionDataPrefix+sessionID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Touch slides the session forward after a successful validation.
func (c *SessionCache) Touch(session *model.Session, slidingWindow time.Duration) error {
	now := time.Now().UTC()
	session.LastUsedAt = now
	session.ExpiresAt = now.Add(slidingWindow)
	return c.Store(session, slidingWindow)
}

// Revoke marks the record revoked in place. The record stays until retention
// ends so a replayed cookie gets a revocation answer, not a not-found one.
func (c *SessionCache) Revoke(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := c.Get(sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	session.Revoked = true
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl, err := c.client.TTL(ctx, sessionDataPrefix+sessionID)
	if err != nil || ttl <= 0 {
		ttl = time.Minute
	}

	if err := c.client.Set(ctx, sessionDataPrefix+sessionID, data, ttl); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	util.Info("Session revoked",
		zap.String("session_id", sessionID),
		zap.String("tracker_id", session.TrackerID))

	return nil
}

// GetActiveSessionID returns the session currently pointed at by a tracker.
func (c *SessionCache) GetActiveSessionID(trackerID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID, err := c.client.Get(ctx, activeSessionPrefix+trackerID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to get active session: %w", err)
	}
	return sessionID, nil
}

// DeleteByTracker removes the tracker's pointer and its session record.
// Used by the cleanup cascade.
func (c *SessionCache) DeleteByTracker(trackerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionID, err := c.GetActiveSessionID(trackerID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, activeSessionPrefix+trackerID)
	if sessionID != "" {
		pipe.Del(ctx, sessionDataPrefix+sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to delete sessions for tracker",
			zap.String("tracker_id", trackerID),
			zap.Error(err))
		return fmt.Errorf("failed to delete sessions for tracker: %w", err)
	}

	return nil
}
