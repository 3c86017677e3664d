package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/audit"
	"onboarding-service/internal/flow"
	"onboarding-service/internal/hashing"
	"onboarding-service/internal/identity"
	"onboarding-service/internal/model"
	"onboarding-service/internal/util"
)

type resumeEnv struct {
	svc      *ResumeService
	sessions *SessionService
	trackers *fakeTrackerRepo
	codes    *fakeCodeStore
	store    *fakeSessionStore
	mailer   *fakeMailer
	codec    *identity.Codec
}

func newResumeEnv(t *testing.T) *resumeEnv {
	t.Helper()
	cfg := testConfig()

	codec, err := identity.NewCodec(cfg)
	require.NoError(t, err)

	trackers := newFakeTrackerRepo()
	codes := newFakeCodeStore()
	store := newFakeSessionStore()
	mailer := &fakeMailer{}
	sessions := NewSessionService(store, cfg)

	svc := NewResumeService(
		trackers, codes, sessions, codec,
		hashing.NewHasher(cfg), mailer,
		audit.NoopRecorder{}, cfg)

	return &resumeEnv{
		svc:      svc,
		sessions: sessions,
		trackers: trackers,
		codes:    codes,
		store:    store,
		mailer:   mailer,
		codec:    codec,
	}
}

func (e *resumeEnv) seedTracker(t *testing.T, identifier, email string) *model.Tracker {
	t.Helper()
	normalized := util.NormalizeIdentifier(identifier)

	identifierEncrypted, err := e.codec.Encrypt(normalized)
	require.NoError(t, err)
	emailEncrypted, err := e.codec.Encrypt(util.NormalizeEmail(email))
	require.NoError(t, err)

	tracker := &model.Tracker{
		IdentifierHash:      e.codec.Hash(normalized),
		IdentifierEncrypted: identifierEncrypted,
		EmailEncrypted:      emailEncrypted,
		FirstName:           "Dana",
		LastName:            "Hall",
		CompanyID:           "acme-haulage",
		ApplicationType:     "company_driver",
		ResumeExpiresAt:     time.Now().UTC().Add(14 * 24 * time.Hour),
		Status: flow.Status{
			CurrentStep:    flow.StepApplicationForm,
			CompletedSteps: []flow.Step{flow.StepPreQualification},
		},
	}
	require.NoError(t, e.trackers.Create(tracker))
	return tracker
}

func TestResumeRequestIssuesCode(t *testing.T) {
	env := newResumeEnv(t)
	tracker := env.seedTracker(t, "D123-456-789", "dana@example.com")

	result, err := env.svc.Request(context.Background(), "d123 456 789")
	require.NoError(t, err)
	assert.Equal(t, "d***@example.com", result.MaskedEmail)
	assert.Equal(t, 600, result.CodeExpiresInSec)
	assert.Equal(t, 60, result.ResendAvailableSec)

	sent, ok := env.mailer.lastSent()
	require.True(t, ok)
	assert.Equal(t, "dana@example.com", sent.ToEmail)
	assert.Len(t, sent.Code, 6)
	assert.Equal(t, "acme-haulage", sent.CompanyID)

	record, err := env.codes.Get(tracker.TrackerID, model.PurposeResume)
	require.NoError(t, err)
	assert.Equal(t, 0, record.Attempts)
	assert.Equal(t, 5, record.MaxAttempts)
}

func TestResumeRequestUnknownIdentifier(t *testing.T) {
	env := newResumeEnv(t)

	_, err := env.svc.Request(context.Background(), "does-not-exist")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestResumeRequestExpiredTracker(t *testing.T) {
	env := newResumeEnv(t)
	tracker := env.seedTracker(t, "E111", "e@example.com")
	require.NoError(t, env.trackers.UpdateResumeExpiresAt(tracker.TrackerID, time.Now().UTC().Add(-time.Hour)))

	_, err := env.svc.Request(context.Background(), "E111")
	require.True(t, apperr.IsKind(err, apperr.KindGone))
	assert.Equal(t, "ONBOARDING_EXPIRED", apperr.From(err).Reason)
}

func TestResumeRequestTerminatedTracker(t *testing.T) {
	env := newResumeEnv(t)
	tracker := env.seedTracker(t, "E222", "e2@example.com")
	require.NoError(t, env.trackers.Terminate(tracker.TrackerID, "failed_background_check"))

	_, err := env.svc.Request(context.Background(), "E222")
	require.True(t, apperr.IsKind(err, apperr.KindGone))
	assert.Equal(t, "APPLICATION_TERMINATED", apperr.From(err).Reason)
}

func TestResumeResendWindow(t *testing.T) {
	env := newResumeEnv(t)
	tracker := env.seedTracker(t, "F333", "f@example.com")

	_, err := env.svc.Request(context.Background(), "F333")
	require.NoError(t, err)
	firstMail, _ := env.mailer.lastSent()

	// Inside the window: rejected with a positive retry hint.
	_, err = env.svc.Request(context.Background(), "F333")
	require.True(t, apperr.IsKind(err, apperr.KindRateLimited))
	assert.Greater(t, apperr.From(err).RetryAfterSeconds, 0)

	// Age the record past the window: a new code replaces the old one.
	record, err := env.codes.Get(tracker.TrackerID, model.PurposeResume)
	require.NoError(t, err)
	record.CreatedAt = record.CreatedAt.Add(-2 * time.Minute)
	require.NoError(t, env.codes.Store(record, time.Minute))

	_, err = env.svc.Request(context.Background(), "F333")
	require.NoError(t, err)

	_, err = env.svc.Verify(context.Background(), "F333", firstMail.Code)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestResumeVerifySuccess(t *testing.T) {
	env := newResumeEnv(t)
	tracker := env.seedTracker(t, "G444", "g@example.com")

	oldSession, err := env.sessions.Create(tracker.TrackerID)
	require.NoError(t, err)

	_, err = env.svc.Request(context.Background(), "G444")
	require.NoError(t, err)
	sent, _ := env.mailer.lastSent()

	oldExpiry := tracker.ResumeExpiresAt
	result, err := env.svc.Verify(context.Background(), "G444", sent.Code)
	require.NoError(t, err)
	assert.Equal(t, tracker.TrackerID, result.Session.TrackerID)
	assert.NotEqual(t, oldSession.SessionID, result.Session.SessionID)
	assert.True(t, result.Tracker.ResumeExpiresAt.After(oldExpiry.Add(-time.Second)))

	// The old session was revoked by the re-verification.
	stored, err := env.store.Get(oldSession.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Revoked)

	// The code is single-use.
	_, err = env.svc.Verify(context.Background(), "G444", sent.Code)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestResumeVerifyAttemptExhaustion(t *testing.T) {
	env := newResumeEnv(t)
	env.seedTracker(t, "H555", "h@example.com")

	_, err := env.svc.Request(context.Background(), "H555")
	require.NoError(t, err)
	sent, _ := env.mailer.lastSent()

	for i := 0; i < 4; i++ {
		_, err = env.svc.Verify(context.Background(), "H555", "000000")
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized), "attempt %d", i+1)
	}

	// Fifth wrong attempt exhausts the budget.
	_, err = env.svc.Verify(context.Background(), "H555", "000000")
	assert.True(t, apperr.IsKind(err, apperr.KindTooManyAttempts))

	// Even the right code is dead now.
	_, err = env.svc.Verify(context.Background(), "H555", sent.Code)
	assert.True(t, apperr.IsKind(err, apperr.KindTooManyAttempts))
}

func TestResumeVerifyExpiredCode(t *testing.T) {
	env := newResumeEnv(t)
	tracker := env.seedTracker(t, "I666", "i@example.com")

	_, err := env.svc.Request(context.Background(), "I666")
	require.NoError(t, err)
	sent, _ := env.mailer.lastSent()

	record, err := env.codes.Get(tracker.TrackerID, model.PurposeResume)
	require.NoError(t, err)
	record.ExpiresAt = time.Now().UTC().Add(-time.Second)
	require.NoError(t, env.codes.Store(record, time.Minute))

	_, err = env.svc.Verify(context.Background(), "I666", sent.Code)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestResumeRequestMailFailureIsSwallowed(t *testing.T) {
	env := newResumeEnv(t)
	tracker := env.seedTracker(t, "J777", "j@example.com")
	env.mailer.fail = assert.AnError

	result, err := env.svc.Request(context.Background(), "J777")
	require.NoError(t, err)
	assert.NotEmpty(t, result.MaskedEmail)

	// The code record is live even though the mail never went out.
	_, err = env.codes.Get(tracker.TrackerID, model.PurposeResume)
	require.NoError(t, err)
}
