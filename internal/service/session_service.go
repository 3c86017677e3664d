package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/config"
	"onboarding-service/internal/model"
	redisrepo "onboarding-service/internal/repository/redis"
	"onboarding-service/internal/util"
)

// SessionStore is what the session service needs from Redis.
type SessionStore interface {
	Store(session *model.Session, slidingWindow time.Duration) error
	Get(sessionID string) (*model.Session, error)
	Touch(session *model.Session, slidingWindow time.Duration) error
	Revoke(sessionID string) error
	GetActiveSessionID(trackerID string) (string, error)
	DeleteByTracker(trackerID string) error
}

// SessionService issues and validates opaque server-side sessions with a
// sliding expiry window.
type SessionService struct {
	store SessionStore
	ttl   time.Duration
}

func NewSessionService(store SessionStore, cfg *config.Config) *SessionService {
	return &SessionService{
		store: store,
		ttl:   cfg.Session.TTL,
	}
}

// Create mints a fresh session bound to one tracker. An earlier session for
// the same tracker may still be live; overlap is tolerated, the pointer just
// moves.
func (s *SessionService) Create(trackerID string) (*model.Session, error) {
	now := time.Now().UTC()
	session := &model.Session{
		SessionID:  uuid.New().String(),
		TrackerID:  trackerID,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}

	if err := s.store.Store(session, s.ttl); err != nil {
		return nil, apperr.Internal(err)
	}

	util.Debug("Session created",
		zap.String("tracker_id", trackerID),
		zap.Time("expires_at", session.ExpiresAt))

	return session, nil
}

// Validate checks the session and slides its expiry on success. Each failure
// carries its own reason so the client can tell a lost session from a stale
// or revoked one; all of them instruct the client to drop the cookie.
func (s *SessionService) Validate(sessionID, trackerID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, apperr.SessionRequired(apperr.SessionNotFound)
	}

	session, err := s.store.Get(sessionID)
	if err != nil {
		if errors.Is(err, redisrepo.ErrSessionNotFound) {
			return nil, apperr.SessionRequired(apperr.SessionNotFound)
		}
		return nil, apperr.Internal(err)
	}

	if session.Revoked {
		return nil, apperr.SessionRequired(apperr.SessionRevoked)
	}
	if sessionExpired(session, time.Now().UTC()) {
		return nil, apperr.SessionRequired(apperr.SessionExpired)
	}
	if session.TrackerID != trackerID {
		return nil, apperr.SessionRequired(apperr.SessionTrackerMismatch)
	}

	if err := s.store.Touch(session, s.ttl); err != nil {
		return nil, apperr.Internal(err)
	}

	return session, nil
}

// sessionExpired treats the expiry instant itself as expired.
func sessionExpired(session *model.Session, now time.Time) bool {
	return !now.Before(session.ExpiresAt)
}

// Revoke invalidates one session by ID.
func (s *SessionService) Revoke(sessionID string) error {
	if err := s.store.Revoke(sessionID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// RevokeActiveForTracker invalidates whatever session the tracker currently
// points at. Used when a resume verification mints a replacement.
func (s *SessionService) RevokeActiveForTracker(trackerID string) error {
	sessionID, err := s.store.GetActiveSessionID(trackerID)
	if err != nil {
		if errors.Is(err, redisrepo.ErrSessionNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}
	return s.Revoke(sessionID)
}
