package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"onboarding-service/internal/client"
	"onboarding-service/internal/config"
	"onboarding-service/internal/model"
	"onboarding-service/internal/util"
)

// TrackerDocument is the searchable projection of a tracker. It carries no
// identifier material, only the fields recruiters filter on.
type TrackerDocument struct {
	TrackerID       string    `json:"tracker_id"`
	CompanyID       string    `json:"company_id"`
	ApplicationType string    `json:"application_type"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	CurrentStep     string    `json:"current_step"`
	Completed       bool      `json:"completed"`
	Terminated      bool      `json:"terminated"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Indexer mirrors tracker state into the search index, best-effort.
type Indexer interface {
	IndexTracker(ctx context.Context, tracker *model.Tracker)
	RemoveTracker(ctx context.Context, trackerID string)
}

type ESIndexer struct {
	es    *client.ESClient
	index string
}

func NewESIndexer(es *client.ESClient, cfg *config.Config) *ESIndexer {
	return &ESIndexer{
		es:    es,
		index: cfg.Elastic.TrackerIndex,
	}
}

func (i *ESIndexer) IndexTracker(ctx context.Context, tracker *model.Tracker) {
	doc := TrackerDocument{
		TrackerID:       tracker.TrackerID,
		CompanyID:       tracker.CompanyID,
		ApplicationType: tracker.ApplicationType,
		FirstName:       tracker.FirstName,
		LastName:        tracker.LastName,
		CurrentStep:     string(tracker.Status.CurrentStep),
		Completed:       tracker.Status.Completed,
		Terminated:      tracker.Terminated,
		CreatedAt:       tracker.CreatedAt,
		UpdatedAt:       time.Now().UTC(),
	}

	res, err := i.es.IndexDocument(ctx, i.index, tracker.TrackerID, doc)
	if err != nil {
		util.Warn("tracker index update failed",
			zap.String("tracker_id", tracker.TrackerID),
			zap.Error(err))
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		util.Warn("tracker index update rejected",
			zap.String("tracker_id", tracker.TrackerID),
			zap.String("status", res.Status()))
	}
}

func (i *ESIndexer) RemoveTracker(ctx context.Context, trackerID string) {
	res, err := i.es.DeleteDocument(ctx, i.index, trackerID)
	if err != nil {
		util.Warn("tracker index delete failed",
			zap.String("tracker_id", trackerID),
			zap.Error(err))
		return
	}
	defer res.Body.Close()
}

// NoopIndexer keeps the search dependency optional in tests and local runs.
type NoopIndexer struct{}

func (NoopIndexer) IndexTracker(ctx context.Context, tracker *model.Tracker) {}
func (NoopIndexer) RemoveTracker(ctx context.Context, trackerID string)      {}
