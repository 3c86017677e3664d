package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding-service/internal/audit"
	"onboarding-service/internal/flow"
	"onboarding-service/internal/model"
)

type cleanupEnv struct {
	svc      *CleanupService
	trackers *fakeTrackerRepo
	forms    *fakeFormRepo
	store    *fakeSessionStore
	codes    *fakeCodeStore
	blobs    *fakeBlobDeleter
}

func newCleanupEnv(t *testing.T) *cleanupEnv {
	t.Helper()
	cfg := testConfig()

	trackers := newFakeTrackerRepo()
	forms := newFakeFormRepo()
	store := newFakeSessionStore()
	codes := newFakeCodeStore()
	blobs := &fakeBlobDeleter{}

	svc := NewCleanupService(
		trackers, forms, store, codes, blobs,
		audit.NoopRecorder{}, audit.NoopIndexer{}, cfg)

	return &cleanupEnv{
		svc:      svc,
		trackers: trackers,
		forms:    forms,
		store:    store,
		codes:    codes,
		blobs:    blobs,
	}
}

// seedAbandoned creates a tracker whose resume window closed an hour ago,
// with a form document, a session and a verification code hanging off it.
func (e *cleanupEnv) seedAbandoned(t *testing.T, id string, blobKeys []string) *model.Tracker {
	t.Helper()
	tracker := &model.Tracker{
		TrackerID:       id,
		IdentifierHash:  "hash-" + id,
		ResumeExpiresAt: time.Now().UTC().Add(-time.Hour),
		Status: flow.Status{
			CurrentStep:    flow.StepPolicies,
			CompletedSteps: []flow.Step{flow.StepPreQualification, flow.StepApplicationForm},
		},
	}
	require.NoError(t, e.trackers.Create(tracker))

	require.NoError(t, e.forms.Create(&model.FormDocument{
		TrackerID: id,
		FormType:  string(flow.StepApplicationForm),
		BlobKeys:  blobKeys,
	}))

	require.NoError(t, e.store.Store(&model.Session{
		SessionID: "session-" + id,
		TrackerID: id,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}, time.Hour))

	require.NoError(t, e.codes.Store(&model.VerificationCode{
		TrackerID: id,
		Purpose:   model.PurposeResume,
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	}, time.Minute))

	return tracker
}

func TestCleanupDeletesAbandonedTracker(t *testing.T) {
	env := newCleanupEnv(t)
	env.seedAbandoned(t, "t1", []string{"uploads/t1/license.jpg", "uploads/t1/medical.pdf"})

	report, err := env.svc.Run(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeletedCount)
	assert.Equal(t, 100, report.LimitApplied)
	assert.False(t, report.RanAt.IsZero())

	_, err = env.trackers.GetByID("t1")
	assert.Error(t, err)

	docs, err := env.forms.ListByTracker("t1")
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = env.store.Get("session-t1")
	assert.Error(t, err)

	_, err = env.codes.Get("t1", model.PurposeResume)
	assert.Error(t, err)

	assert.ElementsMatch(t,
		[]string{"uploads/t1/license.jpg", "uploads/t1/medical.pdf"},
		env.blobs.deleted)
}

func TestCleanupNeverSelectsCompletedTrackers(t *testing.T) {
	env := newCleanupEnv(t)

	completed := env.seedAbandoned(t, "t-done", nil)
	completed.Status.Completed = true
	require.NoError(t, env.trackers.UpdateStatus("t-done", completed.Status))

	report, err := env.svc.Run(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DeletedCount)

	_, err = env.trackers.GetByID("t-done")
	assert.NoError(t, err)
}

func TestCleanupSkipsTrackersInsideResumeWindow(t *testing.T) {
	env := newCleanupEnv(t)

	active := env.seedAbandoned(t, "t-live", nil)
	require.NoError(t, env.trackers.UpdateResumeExpiresAt(
		active.TrackerID, time.Now().UTC().Add(time.Hour)))

	report, err := env.svc.Run(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DeletedCount)
}

func TestCleanupBlobFailureDoesNotBlockDeletion(t *testing.T) {
	env := newCleanupEnv(t)
	env.seedAbandoned(t, "t2", []string{"uploads/t2/license.jpg"})
	env.blobs.fail = assert.AnError

	report, err := env.svc.Run(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeletedCount)

	_, err = env.trackers.GetByID("t2")
	assert.Error(t, err)
}

func TestCleanupIsolatesPerTrackerFailures(t *testing.T) {
	env := newCleanupEnv(t)
	env.seedAbandoned(t, "t3", nil)
	env.seedAbandoned(t, "t4", nil)

	// Form listing fails for every tracker on this run.
	env.forms.listErr = assert.AnError

	report, err := env.svc.Run(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DeletedCount)

	// Both survive for the next run; nothing was half-deleted.
	_, err = env.trackers.GetByID("t3")
	assert.NoError(t, err)
	_, err = env.trackers.GetByID("t4")
	assert.NoError(t, err)

	// With the fault cleared, the next run drains them.
	env.forms.listErr = nil
	report, err = env.svc.Run(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DeletedCount)
}

func TestCleanupCapsLimit(t *testing.T) {
	env := newCleanupEnv(t)

	report, err := env.svc.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 5000, report.LimitApplied)

	report, err = env.svc.Run(context.Background(), 999999)
	require.NoError(t, err)
	assert.Equal(t, 5000, report.LimitApplied)
}

func TestCleanupIsIdempotent(t *testing.T) {
	env := newCleanupEnv(t)
	env.seedAbandoned(t, "t5", nil)

	report, err := env.svc.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeletedCount)

	report, err = env.svc.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DeletedCount)
}
