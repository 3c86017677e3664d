package scylla

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"onboarding-service/internal/model"
	"onboarding-service/internal/util"
)

// FormRepository stores the sub-documents a tracker accumulates as the driver
// works through the flow.
type FormRepository interface {
	Create(doc *model.FormDocument) error
	ListByTracker(trackerID string) ([]*model.FormDocument, error)
	DeleteByTracker(trackerID string) error
}

type formRepository struct {
	client *ScyllaClient
}

func NewFormRepository(client *ScyllaClient, logger *zap.Logger) FormRepository {
	return &formRepository{client: client}
}

func (r *formRepository) Create(doc *model.FormDocument) error {
	if doc.FormID == "" {
		doc.FormID = uuid.New().String()
	}
	doc.CreatedAt = time.Now().UTC()

	query := r.client.Prepared.CreateFormDocument.Bind(
		doc.TrackerID, doc.FormID, doc.FormType, doc.BlobKeys, doc.Payload, doc.CreatedAt)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to create form document",
			zap.String("tracker_id", doc.TrackerID),
			zap.String("form_type", doc.FormType),
			zap.Error(err))
		return fmt.Errorf("failed to create form document: %w", err)
	}

	util.Debug("Form document created",
		zap.String("tracker_id", doc.TrackerID),
		zap.String("form_id", doc.FormID),
		zap.String("form_type", doc.FormType))

	return nil
}

func (r *formRepository) ListByTracker(trackerID string) ([]*model.FormDocument, error) {
	iter := r.client.Prepared.GetFormsByTracker.Bind(trackerID).Iter()

	var docs []*model.FormDocument
	doc := &model.FormDocument{}
	for iter.Scan(&doc.TrackerID, &doc.FormID, &doc.FormType, &doc.BlobKeys, &doc.Payload, &doc.CreatedAt) {
		docs = append(docs, doc)
		doc = &model.FormDocument{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list form documents: %w", err)
	}

	return docs, nil
}

func (r *formRepository) DeleteByTracker(trackerID string) error {
	query := r.client.Prepared.DeleteFormsByTracker.Bind(trackerID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to delete form documents",
			zap.String("tracker_id", trackerID),
			zap.Error(err))
		return fmt.Errorf("failed to delete form documents: %w", err)
	}
	return nil
}
