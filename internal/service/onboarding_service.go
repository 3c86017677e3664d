package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/audit"
	"onboarding-service/internal/config"
	"onboarding-service/internal/flow"
	"onboarding-service/internal/identity"
	"onboarding-service/internal/model"
	"onboarding-service/internal/repository/scylla"
	"onboarding-service/internal/util"
)

// TrackerPurger cascades a tracker deletion across every store that may hold
// records for it.
type TrackerPurger interface {
	PurgeTracker(ctx context.Context, tracker *model.Tracker) error
}

// DocumentStore is what the step flow needs from blob storage.
type DocumentStore interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, objectKey string) ([]byte, error)
}

// StartRequest is the pre-qualification submission that opens an application.
type StartRequest struct {
	Identifier           string `json:"identifier"`
	Email                string `json:"email"`
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	CompanyID            string `json:"companyId"`
	ApplicationType      string `json:"applicationType"`
	NeedsFlatbedTraining bool   `json:"needsFlatbedTraining"`
	Payload              string `json:"payload"`
}

// StartResult bundles the new tracker with its initial session.
type StartResult struct {
	Tracker *model.Tracker
	Session *model.Session
}

// SubmitResult is the post-submission state plus the slid session.
type SubmitResult struct {
	Status  flow.Status
	Session *model.Session
}

// StepAccess answers the form UI's "may I render this page" question.
type StepAccess struct {
	Allowed     bool        `json:"allowed"`
	Status      flow.Status `json:"status"`
	FlowSteps   []flow.Step `json:"flowSteps"`
	RequestedAt time.Time   `json:"requestedAt"`
}

// OnboardingService drives the application through its step flow.
type OnboardingService struct {
	trackers  scylla.TrackerRepository
	forms     scylla.FormRepository
	sessions  *SessionService
	codec     *identity.Codec
	documents DocumentStore
	purger    TrackerPurger
	recorder  audit.Recorder
	indexer   audit.Indexer

	resumeTTL time.Duration
}

func NewOnboardingService(
	trackers scylla.TrackerRepository,
	forms scylla.FormRepository,
	sessions *SessionService,
	codec *identity.Codec,
	documents DocumentStore,
	purger TrackerPurger,
	recorder audit.Recorder,
	indexer audit.Indexer,
	cfg *config.Config,
) *OnboardingService {
	return &OnboardingService{
		trackers:  trackers,
		forms:     forms,
		sessions:  sessions,
		codec:     codec,
		documents: documents,
		purger:    purger,
		recorder:  recorder,
		indexer:   indexer,
		resumeTTL: cfg.Cleanup.ResumeTTL,
	}
}

// Start creates the tracker from a pre-qualification submission, records the
// submission as the first form document and mints the initial session.
func (s *OnboardingService) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	normalized := util.NormalizeIdentifier(req.Identifier)
	email := util.NormalizeEmail(req.Email)
	switch {
	case normalized == "":
		return nil, apperr.Validation("identifier is required")
	case email == "":
		return nil, apperr.Validation("email is required")
	case req.FirstName == "" || req.LastName == "":
		return nil, apperr.Validation("first and last name are required")
	case req.CompanyID == "":
		return nil, apperr.Validation("companyId is required")
	case req.ApplicationType == "":
		return nil, apperr.Validation("applicationType is required")
	}

	identifierHash := s.codec.Hash(normalized)

	// One live application per identifier. A record past its resume window
	// or terminated is replaced in place rather than waiting for cleanup.
	existing, err := s.trackers.GetByIdentifierHash(identifierHash)
	if err != nil && !errors.Is(err, scylla.ErrTrackerNotFound) {
		return nil, apperr.Internal(err)
	}
	if existing != nil {
		now := time.Now().UTC()
		resumable := !existing.Terminated && !now.After(existing.ResumeExpiresAt)
		if existing.Status.Completed || resumable {
			return nil, apperr.Validation("an application already exists for this identifier")
		}
		// Full cascade, not just the tracker row: once the row is gone the
		// cleanup scan can never find the stale forms, blobs and caches.
		if err := s.purger.PurgeTracker(ctx, existing); err != nil {
			return nil, apperr.Internal(err)
		}
	}

	identifierEncrypted, err := s.codec.Encrypt(normalized)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	emailEncrypted, err := s.codec.Encrypt(email)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	tracker := &model.Tracker{
		IdentifierHash:       identifierHash,
		IdentifierEncrypted:  identifierEncrypted,
		EmailEncrypted:       emailEncrypted,
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		CompanyID:            req.CompanyID,
		ApplicationType:      req.ApplicationType,
		NeedsFlatbedTraining: req.NeedsFlatbedTraining,
		ResumeExpiresAt:      time.Now().UTC().Add(s.resumeTTL),
		Forms:                map[string]string{},
	}

	profile := tracker.Profile()
	tracker.Status = flow.Status{CurrentStep: flow.StepPreQualification}
	if next, ok := flow.NextStep(profile, flow.StepPreQualification); ok {
		tracker.Status = flow.AdvanceProgress(profile, tracker.Status, next)
	}

	if err := s.trackers.Create(tracker); err != nil {
		return nil, apperr.Internal(err)
	}

	doc := &model.FormDocument{
		TrackerID: tracker.TrackerID,
		FormType:  string(flow.StepPreQualification),
		Payload:   req.Payload,
	}
	if err := s.forms.Create(doc); err != nil {
		return nil, apperr.Internal(err)
	}
	tracker.Forms[doc.FormType] = doc.FormID
	if err := s.trackers.UpdateForms(tracker.TrackerID, tracker.Forms); err != nil {
		return nil, apperr.Internal(err)
	}

	session, err := s.sessions.Create(tracker.TrackerID)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		EventType: audit.EventTrackerCreated,
		TrackerID: tracker.TrackerID,
		CompanyID: tracker.CompanyID,
		Step:      string(tracker.Status.CurrentStep),
	})
	s.indexer.IndexTracker(ctx, tracker)

	util.Info("Onboarding started",
		zap.String("tracker_id", tracker.TrackerID),
		zap.String("company_id", tracker.CompanyID),
		zap.String("application_type", tracker.ApplicationType))

	return &StartResult{Tracker: tracker, Session: session}, nil
}

// CheckStepAccess validates the session and reports whether the driver has
// reached the requested step. Unreached steps are not an error, the UI just
// redirects to the current one.
func (s *OnboardingService) CheckStepAccess(ctx context.Context, trackerID, stepName, sessionID string) (*StepAccess, *model.Session, error) {
	session, err := s.sessions.Validate(sessionID, trackerID)
	if err != nil {
		return nil, nil, err
	}

	tracker, err := s.loadActive(trackerID)
	if err != nil {
		return nil, nil, err
	}

	step, ok := flow.ParseStep(stepName)
	if !ok {
		return nil, nil, apperr.Validation("unknown step")
	}

	profile := tracker.Profile()
	access := &StepAccess{
		Allowed:     flow.HasReachedStep(profile, tracker.Status, step),
		Status:      tracker.Status,
		FlowSteps:   flow.BuildFlow(profile),
		RequestedAt: time.Now().UTC(),
	}
	return access, session, nil
}

// SubmitStep records a step submission: store the form document, advance
// progress past the step and slide the resume window.
func (s *OnboardingService) SubmitStep(ctx context.Context, trackerID, stepName, sessionID, payload string, blobKeys []string) (*SubmitResult, error) {
	session, err := s.sessions.Validate(sessionID, trackerID)
	if err != nil {
		return nil, err
	}

	tracker, err := s.loadActive(trackerID)
	if err != nil {
		return nil, err
	}
	if tracker.Status.Completed {
		return nil, apperr.Validation("application is already complete")
	}

	step, ok := flow.ParseStep(stepName)
	if !ok {
		return nil, apperr.Validation("unknown step")
	}

	profile := tracker.Profile()
	if !flow.HasReachedStep(profile, tracker.Status, step) {
		return nil, apperr.Validation("this step is not yet reachable")
	}

	doc := &model.FormDocument{
		TrackerID: tracker.TrackerID,
		FormType:  string(step),
		BlobKeys:  blobKeys,
		Payload:   payload,
	}
	if err := s.forms.Create(doc); err != nil {
		return nil, apperr.Internal(err)
	}
	if tracker.Forms == nil {
		tracker.Forms = map[string]string{}
	}
	tracker.Forms[doc.FormType] = doc.FormID
	if err := s.trackers.UpdateForms(tracker.TrackerID, tracker.Forms); err != nil {
		return nil, apperr.Internal(err)
	}

	target := step
	if next, ok := flow.NextStep(profile, step); ok {
		target = next
	}
	newStatus := flow.AdvanceProgress(profile, tracker.Status, target)
	if err := s.trackers.UpdateStatus(tracker.TrackerID, newStatus); err != nil {
		return nil, apperr.Internal(err)
	}
	tracker.Status = newStatus

	if err := s.trackers.UpdateResumeExpiresAt(tracker.TrackerID, time.Now().UTC().Add(s.resumeTTL)); err != nil {
		return nil, apperr.Internal(err)
	}

	s.recorder.Record(ctx, audit.Event{
		EventType: audit.EventStepSubmitted,
		TrackerID: tracker.TrackerID,
		CompanyID: tracker.CompanyID,
		Step:      string(step),
	})
	if newStatus.Completed {
		s.recorder.Record(ctx, audit.Event{
			EventType: audit.EventTrackerCompleted,
			TrackerID: tracker.TrackerID,
			CompanyID: tracker.CompanyID,
		})
	}
	s.indexer.IndexTracker(ctx, tracker)

	util.Info("Step submitted",
		zap.String("tracker_id", tracker.TrackerID),
		zap.String("step", string(step)),
		zap.String("current_step", string(newStatus.CurrentStep)),
		zap.Bool("completed", newStatus.Completed))

	return &SubmitResult{Status: newStatus, Session: session}, nil
}

// Withdraw closes the application at the driver's request. The record stays
// on file as terminated until its resume window lapses and cleanup removes it.
func (s *OnboardingService) Withdraw(ctx context.Context, trackerID, sessionID string) error {
	if _, err := s.sessions.Validate(sessionID, trackerID); err != nil {
		return err
	}

	tracker, err := s.loadActive(trackerID)
	if err != nil {
		return err
	}
	if tracker.Status.Completed {
		return apperr.Validation("a completed application cannot be withdrawn")
	}

	if err := s.trackers.Terminate(trackerID, "applicant_withdrawal"); err != nil {
		return apperr.Internal(err)
	}
	tracker.Terminated = true
	tracker.TerminationType = "applicant_withdrawal"

	if err := s.sessions.RevokeActiveForTracker(trackerID); err != nil {
		return err
	}

	s.recorder.Record(ctx, audit.Event{
		EventType: audit.EventTrackerTerminated,
		TrackerID: tracker.TrackerID,
		CompanyID: tracker.CompanyID,
		Detail:    tracker.TerminationType,
	})
	s.indexer.IndexTracker(ctx, tracker)

	util.Info("Application withdrawn",
		zap.String("tracker_id", trackerID))

	return nil
}

// UploadDocument stores one uploaded file under the tracker's blob prefix and
// returns the key the client then attaches to a step submission.
func (s *OnboardingService) UploadDocument(ctx context.Context, trackerID, sessionID, filename, contentType string, reader io.Reader, size int64) (string, error) {
	if _, err := s.sessions.Validate(sessionID, trackerID); err != nil {
		return "", err
	}

	tracker, err := s.loadActive(trackerID)
	if err != nil {
		return "", err
	}
	if tracker.Status.Completed {
		return "", apperr.Validation("application is already complete")
	}

	name := path.Base(filename)
	if name == "" || name == "." || name == "/" {
		return "", apperr.Validation("filename is required")
	}

	objectKey := fmt.Sprintf("uploads/%s/%s-%s", trackerID, uuid.New().String(), name)
	if err := s.documents.Upload(ctx, objectKey, reader, size, contentType); err != nil {
		return "", apperr.Internal(err)
	}

	util.Info("Document uploaded",
		zap.String("tracker_id", trackerID),
		zap.String("object_key", objectKey),
		zap.Int64("size", size))

	return objectKey, nil
}

// DownloadDocument returns a previously uploaded file. Keys outside the
// tracker's own prefix are treated as absent so one applicant can never read
// another's uploads.
func (s *OnboardingService) DownloadDocument(ctx context.Context, trackerID, sessionID, objectKey string) ([]byte, error) {
	if _, err := s.sessions.Validate(sessionID, trackerID); err != nil {
		return nil, err
	}
	if _, err := s.loadActive(trackerID); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(objectKey, "uploads/"+trackerID+"/") {
		return nil, apperr.NotFound("document not found")
	}

	data, err := s.documents.Download(ctx, objectKey)
	if err != nil {
		return nil, apperr.NotFound("document not found")
	}
	return data, nil
}

// Progress returns the tracker's current flow state.
func (s *OnboardingService) Progress(ctx context.Context, trackerID, sessionID string) (*StepAccess, *model.Session, error) {
	session, err := s.sessions.Validate(sessionID, trackerID)
	if err != nil {
		return nil, nil, err
	}

	tracker, err := s.loadActive(trackerID)
	if err != nil {
		return nil, nil, err
	}

	return &StepAccess{
		Allowed:     true,
		Status:      tracker.Status,
		FlowSteps:   flow.BuildFlow(tracker.Profile()),
		RequestedAt: time.Now().UTC(),
	}, session, nil
}

// loadActive fetches a tracker and rejects ones no step traffic may touch.
func (s *OnboardingService) loadActive(trackerID string) (*model.Tracker, error) {
	tracker, err := s.trackers.GetByID(trackerID)
	if err != nil {
		if errors.Is(err, scylla.ErrTrackerNotFound) {
			return nil, apperr.NotFound("application not found")
		}
		return nil, apperr.Internal(err)
	}

	if tracker.Terminated {
		return nil, apperr.Gone("APPLICATION_TERMINATED", "this application has been closed")
	}
	if !tracker.Status.Completed && time.Now().UTC().After(tracker.ResumeExpiresAt) {
		return nil, apperr.Gone("ONBOARDING_EXPIRED", "this application can no longer be resumed")
	}

	return tracker, nil
}
