package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/audit"
	"onboarding-service/internal/config"
	"onboarding-service/internal/hashing"
	"onboarding-service/internal/identity"
	"onboarding-service/internal/mail"
	"onboarding-service/internal/model"
	redisrepo "onboarding-service/internal/repository/redis"
	"onboarding-service/internal/repository/scylla"
	"onboarding-service/internal/util"
)

// CodeStore is what the resume service needs from Redis.
type CodeStore interface {
	Store(code *model.VerificationCode, ttl time.Duration) error
	Get(trackerID, purpose string) (*model.VerificationCode, error)
	IncrementAttempts(code *model.VerificationCode) error
	Delete(trackerID, purpose string) error
	DeleteByTracker(trackerID string) error
}

// ResumeService lets a driver pick an application back up on a new device:
// a one-time emailed code proves they are the same person who started it.
type ResumeService struct {
	trackers scylla.TrackerRepository
	codes    CodeStore
	sessions *SessionService
	codec    *identity.Codec
	hasher   *hashing.Hasher
	mailer   mail.Dispatcher
	recorder audit.Recorder

	codeTTL      time.Duration
	maxAttempts  int
	resendWindow time.Duration
	resumeTTL    time.Duration
}

func NewResumeService(
	trackers scylla.TrackerRepository,
	codes CodeStore,
	sessions *SessionService,
	codec *identity.Codec,
	hasher *hashing.Hasher,
	mailer mail.Dispatcher,
	recorder audit.Recorder,
	cfg *config.Config,
) *ResumeService {
	return &ResumeService{
		trackers:     trackers,
		codes:        codes,
		sessions:     sessions,
		codec:        codec,
		hasher:       hasher,
		mailer:       mailer,
		recorder:     recorder,
		codeTTL:      cfg.Verification.CodeTTL,
		maxAttempts:  cfg.Verification.MaxAttempts,
		resendWindow: cfg.Verification.ResendWindow,
		resumeTTL:    cfg.Cleanup.ResumeTTL,
	}
}

// ResumeRequestResult tells the driver where their code went without leaking
// the full address.
type ResumeRequestResult struct {
	MaskedEmail        string `json:"maskedEmail"`
	CodeExpiresInSec   int    `json:"codeExpiresInSeconds"`
	ResendAvailableSec int    `json:"resendAvailableInSeconds"`
}

// ResumeVerifyResult carries the new session plus enough tracker state for
// the client to land on the right step.
type ResumeVerifyResult struct {
	Session *model.Session
	Tracker *model.Tracker
}

// Request issues a fresh resume code for the application matching the
// identifier. Any previous unexpired code is replaced; requests inside the
// resend window are rejected with a retry hint.
func (s *ResumeService) Request(ctx context.Context, identifier string) (*ResumeRequestResult, error) {
	tracker, err := s.loadTrackerByIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	existing, err := s.codes.Get(tracker.TrackerID, model.PurposeResume)
	if err != nil && !errors.Is(err, redisrepo.ErrCodeNotFound) {
		return nil, apperr.Internal(err)
	}
	if existing != nil {
		elapsed := now.Sub(existing.CreatedAt)
		if elapsed < s.resendWindow {
			retryAfter := int(math.Ceil((s.resendWindow - elapsed).Seconds()))
			return nil, apperr.RateLimited(retryAfter)
		}
		if err := s.codes.Delete(tracker.TrackerID, model.PurposeResume); err != nil {
			return nil, apperr.Internal(err)
		}
	}

	email, err := s.codec.Decrypt(tracker.EmailEncrypted)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to decrypt tracker email: %w", err))
	}

	code, err := generateCode()
	if err != nil {
		return nil, apperr.Internal(err)
	}

	hashed, err := s.hasher.HashCode(code)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	record := &model.VerificationCode{
		TrackerID:      tracker.TrackerID,
		IdentifierHash: tracker.IdentifierHash,
		EmailHash:      s.codec.Hash(util.NormalizeEmail(email)),
		CodeHash:       hashed.Hash,
		CodeSalt:       hashed.Salt,
		PepperVersion:  hashed.PepperVersion,
		Purpose:        model.PurposeResume,
		Attempts:       0,
		MaxAttempts:    s.maxAttempts,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.codeTTL),
	}

	if err := s.codes.Store(record, s.codeTTL); err != nil {
		return nil, apperr.Internal(err)
	}

	// Mail is best-effort: the code record is already live, and the driver
	// can retry after the resend window if delivery fails.
	mailErr := s.mailer.SendResumeCode(ctx, mail.ResumeCodeMail{
		ToEmail:   email,
		Code:      code,
		CompanyID: tracker.CompanyID,
		FirstName: tracker.FirstName,
		LastName:  tracker.LastName,
	})
	if mailErr != nil {
		util.Warn("resume code mail dispatch failed",
			zap.String("tracker_id", tracker.TrackerID),
			zap.Error(mailErr))
	}

	s.recorder.Record(ctx, audit.Event{
		EventType: audit.EventResumeRequested,
		TrackerID: tracker.TrackerID,
		CompanyID: tracker.CompanyID,
	})

	util.Info("Resume code issued",
		zap.String("tracker_id", tracker.TrackerID),
		zap.Time("expires_at", record.ExpiresAt))

	return &ResumeRequestResult{
		MaskedEmail:        util.MaskEmail(email),
		CodeExpiresInSec:   int(s.codeTTL.Seconds()),
		ResendAvailableSec: int(s.resendWindow.Seconds()),
	}, nil
}

// Verify redeems a resume code. On success the code is burned, any prior
// session is revoked, a fresh session is minted and the application's resume
// window is pushed forward.
func (s *ResumeService) Verify(ctx context.Context, identifier, code string) (*ResumeVerifyResult, error) {
	if code == "" {
		return nil, apperr.Validation("verification code is required")
	}

	tracker, err := s.loadTrackerByIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	record, err := s.codes.Get(tracker.TrackerID, model.PurposeResume)
	if err != nil {
		if errors.Is(err, redisrepo.ErrCodeNotFound) {
			return nil, apperr.Unauthorized("invalid or expired verification code")
		}
		return nil, apperr.Internal(err)
	}

	if record.Attempts >= record.MaxAttempts {
		return nil, apperr.TooManyAttempts("too many incorrect attempts, request a new code")
	}

	ok, err := s.hasher.VerifyCode(code, &hashing.HashResult{
		Hash:          record.CodeHash,
		Salt:          record.CodeSalt,
		PepperVersion: record.PepperVersion,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if !ok {
		if err := s.codes.IncrementAttempts(record); err != nil && !errors.Is(err, redisrepo.ErrCodeNotFound) {
			return nil, apperr.Internal(err)
		}
		if record.Attempts >= record.MaxAttempts {
			return nil, apperr.TooManyAttempts("too many incorrect attempts, request a new code")
		}
		return nil, apperr.Unauthorized("invalid or expired verification code")
	}

	if err := s.codes.Delete(tracker.TrackerID, model.PurposeResume); err != nil {
		return nil, apperr.Internal(err)
	}

	if err := s.sessions.RevokeActiveForTracker(tracker.TrackerID); err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(tracker.TrackerID)
	if err != nil {
		return nil, err
	}

	newExpiry := time.Now().UTC().Add(s.resumeTTL)
	if err := s.trackers.UpdateResumeExpiresAt(tracker.TrackerID, newExpiry); err != nil {
		return nil, apperr.Internal(err)
	}
	tracker.ResumeExpiresAt = newExpiry

	s.recorder.Record(ctx, audit.Event{
		EventType: audit.EventResumeVerified,
		TrackerID: tracker.TrackerID,
		CompanyID: tracker.CompanyID,
	})

	util.Info("Resume verified",
		zap.String("tracker_id", tracker.TrackerID))

	return &ResumeVerifyResult{Session: session, Tracker: tracker}, nil
}

func (s *ResumeService) loadTrackerByIdentifier(identifier string) (*model.Tracker, error) {
	normalized := util.NormalizeIdentifier(identifier)
	if normalized == "" {
		return nil, apperr.Validation("identifier is required")
	}

	tracker, err := s.trackers.GetByIdentifierHash(s.codec.Hash(normalized))
	if err != nil {
		if errors.Is(err, scylla.ErrTrackerNotFound) {
			return nil, apperr.NotFound("no application found for this identifier")
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

// generateCode draws a uniform 6-digit zero-padded code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
