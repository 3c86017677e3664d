package scylla

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"onboarding-service/internal/bucketing"
	"onboarding-service/internal/flow"
	"onboarding-service/internal/model"
	"onboarding-service/internal/util"
)

var ErrTrackerNotFound = errors.New("tracker not found")

// TrackerRepository is the persistence surface the services depend on.
type TrackerRepository interface {
	Create(tracker *model.Tracker) error
	GetByID(trackerID string) (*model.Tracker, error)
	GetByIdentifierHash(identifierHash string) (*model.Tracker, error)
	UpdateStatus(trackerID string, status flow.Status) error
	UpdateResumeExpiresAt(trackerID string, expiresAt time.Time) error
	UpdateForms(trackerID string, forms map[string]string) error
	Terminate(trackerID string, terminationType string) error
	ListAbandoned(before time.Time, limit int) ([]*model.Tracker, error)
	Delete(tracker *model.Tracker) error
}

type trackerRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewTrackerRepository(client *ScyllaClient, buckets *bucketing.BucketingManager, logger *zap.Logger) TrackerRepository {
	return &trackerRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *trackerRepository) Create(tracker *model.Tracker) error {
	if tracker.TrackerID == "" {
		tracker.TrackerID = uuid.New().String()
	}
	tracker.TrackerBucket = r.buckets.GetTrackerBucket(tracker.TrackerID)

	now := time.Now().UTC()
	tracker.CreatedAt = now

	completedSteps := stepsToStrings(tracker.Status.CompletedSteps)

	// Batch keeps the tracker row and the identifier lookup row consistent.
	batch := r.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(r.client.Prepared.CreateTracker.Statement(),
		tracker.TrackerBucket, tracker.TrackerID, tracker.IdentifierHash,
		tracker.IdentifierEncrypted, tracker.EmailEncrypted,
		tracker.FirstName, tracker.LastName, tracker.CompanyID,
		tracker.ApplicationType, tracker.NeedsFlatbedTraining,
		string(tracker.Status.CurrentStep), completedSteps, tracker.Status.Completed,
		tracker.ResumeExpiresAt, tracker.Terminated, tracker.TerminationType,
		tracker.Forms, tracker.CreatedAt, now)

	batch.Query(r.client.Prepared.CreateIdentifierLookup.Statement(),
		tracker.IdentifierHash, tracker.TrackerBucket, tracker.TrackerID, now)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create tracker",
			zap.String("tracker_id", tracker.TrackerID),
			zap.Error(err))
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	util.Info("Tracker created",
		zap.String("tracker_id", tracker.TrackerID),
		zap.String("company_id", tracker.CompanyID),
		zap.Int("tracker_bucket", tracker.TrackerBucket))

	return nil
}

func (r *trackerRepository) GetByID(trackerID string) (*model.Tracker, error) {
	bucket := r.buckets.GetTrackerBucket(trackerID)
	return r.getByBucketAndID(bucket, trackerID)
}

func (r *trackerRepository) getByBucketAndID(bucket int, trackerID string) (*model.Tracker, error) {
	tracker := &model.Tracker{}
	var currentStep string
	var completedSteps []string
	var updatedAt time.Time

	query := r.client.Prepared.GetTrackerByID.Bind(bucket, trackerID)

	err := r.client.ScanWithRetry(query,
		&tracker.TrackerBucket, &tracker.TrackerID, &tracker.IdentifierHash,
		&tracker.IdentifierEncrypted, &tracker.EmailEncrypted,
		&tracker.FirstName, &tracker.LastName, &tracker.CompanyID,
		&tracker.ApplicationType, &tracker.NeedsFlatbedTraining,
		&currentStep, &completedSteps, &tracker.Status.Completed,
		&tracker.ResumeExpiresAt, &tracker.Terminated, &tracker.TerminationType,
		&tracker.Forms, &tracker.CreatedAt, &updatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrTrackerNotFound
		}
		util.Error("Failed to get tracker by ID",
			zap.String("tracker_id", trackerID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get tracker by ID: %w", err)
	}

	tracker.Status.CurrentStep = flow.Step(currentStep)
	tracker.Status.CompletedSteps = stringsToSteps(completedSteps)
	if !updatedAt.IsZero() {
		tracker.UpdatedAt = &updatedAt
	}

	return tracker, nil
}

func (r *trackerRepository) GetByIdentifierHash(identifierHash string) (*model.Tracker, error) {
	var bucket int
	var trackerID string

	query := r.client.Prepared.GetTrackerByIdentifier.Bind(identifierHash)
	if err := r.client.ScanWithRetry(query, &bucket, &trackerID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrTrackerNotFound
		}
		return nil, fmt.Errorf("failed to look up tracker by identifier: %w", err)
	}

	return r.getByBucketAndID(bucket, trackerID)
}

func (r *trackerRepository) UpdateStatus(trackerID string, status flow.Status) error {
	bucket := r.buckets.GetTrackerBucket(trackerID)
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateTrackerStatus.Bind(
		string(status.CurrentStep), stepsToStrings(status.CompletedSteps),
		status.Completed, now, bucket, trackerID)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to update tracker status",
			zap.String("tracker_id", trackerID),
			zap.String("current_step", string(status.CurrentStep)),
			zap.Error(err))
		return fmt.Errorf("failed to update tracker status: %w", err)
	}

	util.Debug("Tracker status updated",
		zap.String("tracker_id", trackerID),
		zap.String("current_step", string(status.CurrentStep)),
		zap.Bool("completed", status.Completed))

	return nil
}

func (r *trackerRepository) UpdateResumeExpiresAt(trackerID string, expiresAt time.Time) error {
	bucket := r.buckets.GetTrackerBucket(trackerID)
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateResumeExpiry.Bind(expiresAt, now, bucket, trackerID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update tracker resume expiry: %w", err)
	}
	return nil
}

func (r *trackerRepository) UpdateForms(trackerID string, forms map[string]string) error {
	bucket := r.buckets.GetTrackerBucket(trackerID)
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateTrackerForms.Bind(forms, now, bucket, trackerID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update tracker forms: %w", err)
	}
	return nil
}

func (r *trackerRepository) Terminate(trackerID string, terminationType string) error {
	bucket := r.buckets.GetTrackerBucket(trackerID)
	now := time.Now().UTC()

	query := r.client.Prepared.TerminateTracker.Bind(true, terminationType, now, bucket, trackerID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to terminate tracker",
			zap.String("tracker_id", trackerID),
			zap.String("termination_type", terminationType),
			zap.Error(err))
		return fmt.Errorf("failed to terminate tracker: %w", err)
	}

	util.Info("Tracker terminated",
		zap.String("tracker_id", trackerID),
		zap.String("termination_type", terminationType))

	return nil
}

// ListAbandoned returns incomplete trackers whose resume window closed before
// the cutoff. The filtering scan is acceptable here: cleanup runs off-peak on
// a bounded batch.
func (r *trackerRepository) ListAbandoned(before time.Time, limit int) ([]*model.Tracker, error) {
	iter := r.client.Session.Query(`
        SELECT tracker_bucket, tracker_id, identifier_hash, forms
        FROM trackers
        WHERE completed = false AND resume_expires_at < ?
        LIMIT ? ALLOW FILTERING`, before, limit).Iter()

	var trackers []*model.Tracker
	var bucket int
	var trackerID, identifierHash string
	var forms map[string]string

	for iter.Scan(&bucket, &trackerID, &identifierHash, &forms) {
		trackers = append(trackers, &model.Tracker{
			TrackerBucket:  bucket,
			TrackerID:      trackerID,
			IdentifierHash: identifierHash,
			Forms:          forms,
		})
		forms = nil
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list abandoned trackers: %w", err)
	}

	return trackers, nil
}

func (r *trackerRepository) Delete(tracker *model.Tracker) error {
	batch := r.client.Session.NewBatch(gocql.UnloggedBatch)

	batch.Query(`DELETE FROM trackers WHERE tracker_bucket = ? AND tracker_id = ?`,
		tracker.TrackerBucket, tracker.TrackerID)
	batch.Query(`DELETE FROM identifier_to_tracker WHERE identifier_hash = ?`,
		tracker.IdentifierHash)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to delete tracker",
			zap.String("tracker_id", tracker.TrackerID),
			zap.Error(err))
		return fmt.Errorf("failed to delete tracker: %w", err)
	}

	util.Info("Tracker deleted",
		zap.String("tracker_id", tracker.TrackerID))

	return nil
}

func stepsToStrings(steps []flow.Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, string(s))
	}
	return out
}

func stringsToSteps(values []string) []flow.Step {
	out := make([]flow.Step, 0, len(values))
	for _, v := range values {
		out = append(out, flow.Step(v))
	}
	return out
}
