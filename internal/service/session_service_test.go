package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/model"
)

func newTestSessionService() (*SessionService, *fakeSessionStore) {
	store := newFakeSessionStore()
	return NewSessionService(store, testConfig()), store
}

func requireSessionFailure(t *testing.T, err error, reason apperr.SessionFailureReason) {
	t.Helper()
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindSessionRequired, appErr.Kind)
	assert.Equal(t, string(reason), appErr.Reason)
	assert.True(t, appErr.ClearCookie)
}

func TestSessionCreateAndValidate(t *testing.T) {
	svc, _ := newTestSessionService()

	session, err := svc.Create("tracker-1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, "tracker-1", session.TrackerID)
	assert.False(t, session.Revoked)

	validated, err := svc.Validate(session.SessionID, "tracker-1")
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, validated.SessionID)
}

func TestSessionValidateSlidesExpiry(t *testing.T) {
	svc, store := newTestSessionService()

	session, err := svc.Create("tracker-1")
	require.NoError(t, err)

	// Backdate the stored expiry so the slide is observable.
	stored, err := store.Get(session.SessionID)
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().UTC().Add(time.Minute)
	require.NoError(t, store.Store(stored, time.Minute))

	before := stored.ExpiresAt
	validated, err := svc.Validate(session.SessionID, "tracker-1")
	require.NoError(t, err)
	assert.True(t, validated.ExpiresAt.After(before))
}

func TestSessionValidateFailureReasons(t *testing.T) {
	svc, store := newTestSessionService()

	_, err := svc.Validate("missing", "tracker-1")
	requireSessionFailure(t, err, apperr.SessionNotFound)

	session, err := svc.Create("tracker-1")
	require.NoError(t, err)

	_, err = svc.Validate(session.SessionID, "other-tracker")
	requireSessionFailure(t, err, apperr.SessionTrackerMismatch)

	expired, err := store.Get(session.SessionID)
	require.NoError(t, err)
	expired.ExpiresAt = time.Now().UTC().Add(-time.Second)
	require.NoError(t, store.Store(expired, time.Hour))

	_, err = svc.Validate(session.SessionID, "tracker-1")
	requireSessionFailure(t, err, apperr.SessionExpired)

	require.NoError(t, svc.Revoke(session.SessionID))
	_, err = svc.Validate(session.SessionID, "tracker-1")
	requireSessionFailure(t, err, apperr.SessionRevoked)
}

func TestSessionExpiredAtExactInstant(t *testing.T) {
	now := time.Now().UTC()
	session := &model.Session{SessionID: "s1", TrackerID: "tracker-1", ExpiresAt: now}

	// expiresAt == now is already expired, only a strictly later expiry passes.
	assert.True(t, sessionExpired(session, now))
	assert.True(t, sessionExpired(session, now.Add(time.Nanosecond)))
	assert.False(t, sessionExpired(session, now.Add(-time.Nanosecond)))
}

func TestRevokeActiveForTracker(t *testing.T) {
	svc, store := newTestSessionService()

	session, err := svc.Create("tracker-1")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeActiveForTracker("tracker-1"))

	stored, err := store.Get(session.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Revoked)

	// No active session is not an error.
	require.NoError(t, svc.RevokeActiveForTracker("tracker-2"))
}

func TestValidateEmptySessionID(t *testing.T) {
	svc, _ := newTestSessionService()

	_, err := svc.Validate("", "tracker-1")
	requireSessionFailure(t, err, apperr.SessionNotFound)
}
