package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/audit"
	"onboarding-service/internal/config"
	"onboarding-service/internal/model"
	"onboarding-service/internal/repository/scylla"
	"onboarding-service/internal/util"
)

// BlobDeleter is what cleanup needs from blob storage.
type BlobDeleter interface {
	DeleteAll(ctx context.Context, objectKeys []string) error
}

// CleanupReport summarizes one cleanup run.
type CleanupReport struct {
	RanAt        time.Time `json:"ranAt"`
	LimitApplied int       `json:"limitApplied"`
	DeletedCount int       `json:"deletedCount"`
}

// CleanupService removes abandoned applications: incomplete trackers whose
// resume window has closed, together with everything that hangs off them.
// Runs are idempotent; a tracker that fails mid-cascade is retried whole on
// the next run.
type CleanupService struct {
	trackers scylla.TrackerRepository
	forms    scylla.FormRepository
	sessions SessionStore
	codes    CodeStore
	blobs    BlobDeleter
	recorder audit.Recorder
	indexer  audit.Indexer

	batchCap    int
	concurrency int
}

func NewCleanupService(
	trackers scylla.TrackerRepository,
	forms scylla.FormRepository,
	sessions SessionStore,
	codes CodeStore,
	blobs BlobDeleter,
	recorder audit.Recorder,
	indexer audit.Indexer,
	cfg *config.Config,
) *CleanupService {
	return &CleanupService{
		trackers:    trackers,
		forms:       forms,
		sessions:    sessions,
		codes:       codes,
		blobs:       blobs,
		recorder:    recorder,
		indexer:     indexer,
		batchCap:    cfg.Cleanup.BatchCap,
		concurrency: 8,
	}
}

// Run deletes up to limit abandoned trackers and reports what it did.
// Completed trackers are never selected regardless of their timestamps.
func (s *CleanupService) Run(ctx context.Context, limit int) (*CleanupReport, error) {
	if limit <= 0 || limit > s.batchCap {
		limit = s.batchCap
	}

	now := time.Now().UTC()
	candidates, err := s.trackers.ListAbandoned(now, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	var deleted int64
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for _, tracker := range candidates {
		tracker := tracker
		g.Go(func() error {
			// Failures stay inside the goroutine so one bad tracker
			// cannot abort the rest of the batch.
			if err := s.PurgeTracker(ctx, tracker); err != nil {
				util.Warn("cleanup failed for tracker",
					zap.String("tracker_id", tracker.TrackerID),
					zap.Error(err))
				return nil
			}
			atomic.AddInt64(&deleted, 1)
			return nil
		})
	}
	_ = g.Wait()

	report := &CleanupReport{
		RanAt:        now,
		LimitApplied: limit,
		DeletedCount: int(deleted),
	}

	util.Info("Cleanup run finished",
		zap.Time("ran_at", report.RanAt),
		zap.Int("limit_applied", report.LimitApplied),
		zap.Int("candidates", len(candidates)),
		zap.Int("deleted", report.DeletedCount))

	return report, nil
}

// PurgeTracker cascades one deletion: blobs first (best-effort), then the
// sub-documents, caches and finally the tracker with its lookup row. The
// tracker row goes last so a partial failure leaves the record selectable
// for the next run. Also used when a dead application is replaced in place,
// since once the tracker row is gone nothing would ever select the leftovers.
func (s *CleanupService) PurgeTracker(ctx context.Context, tracker *model.Tracker) error {
	docs, err := s.forms.ListByTracker(tracker.TrackerID)
	if err != nil {
		return err
	}

	var blobKeys []string
	for _, doc := range docs {
		blobKeys = append(blobKeys, doc.BlobKeys...)
	}
	if len(blobKeys) > 0 {
		// Orphaned blobs are tolerable; orphaned records are not.
		if err := s.blobs.DeleteAll(ctx, blobKeys); err != nil {
			util.Warn("blob cleanup incomplete",
				zap.String("tracker_id", tracker.TrackerID),
				zap.Int("blob_keys", len(blobKeys)),
				zap.Error(err))
		}
	}

	if err := s.forms.DeleteByTracker(tracker.TrackerID); err != nil {
		return err
	}
	if err := s.sessions.DeleteByTracker(tracker.TrackerID); err != nil {
		return err
	}
	if err := s.codes.DeleteByTracker(tracker.TrackerID); err != nil {
		return err
	}
	if err := s.trackers.Delete(tracker); err != nil {
		return err
	}

	s.indexer.RemoveTracker(ctx, tracker.TrackerID)
	s.recorder.Record(ctx, audit.Event{
		EventType: audit.EventTrackerDeleted,
		TrackerID: tracker.TrackerID,
	})

	return nil
}
