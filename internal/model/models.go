package model

import (
	"time"

	"onboarding-service/internal/flow"
)

// Tracker is the root record for one driver's onboarding attempt. Sub-forms,
// sessions and verification codes reference it by ID only; the tracker is the
// anchor for cascade deletion and is permanent once completed.
type Tracker struct {
	TrackerBucket int    `db:"tracker_bucket"`
	TrackerID     string `db:"tracker_id"`

	IdentifierHash      string `db:"identifier_hash"`
	IdentifierEncrypted string `db:"identifier_encrypted"`
	EmailEncrypted      string `db:"email_encrypted"`
	FirstName           string `db:"first_name"`
	LastName            string `db:"last_name"`

	CompanyID            string `db:"company_id"`
	ApplicationType      string `db:"application_type"`
	NeedsFlatbedTraining bool   `db:"needs_flatbed_training"`

	Status flow.Status `db:"-"`

	ResumeExpiresAt time.Time `db:"resume_expires_at"`
	Terminated      bool      `db:"terminated"`
	TerminationType string    `db:"termination_type"`

	// Forms maps a sub-form name to the ID of the document that holds it.
	Forms map[string]string `db:"forms"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
}

// Profile extracts the fields that shape this tracker's step flow.
func (t *Tracker) Profile() flow.Profile {
	return flow.Profile{
		CompanyID:            t.CompanyID,
		ApplicationType:      t.ApplicationType,
		NeedsFlatbedTraining: t.NeedsFlatbedTraining,
	}
}

// Session is a server-side session record. The ID is the opaque value the
// cookie carries; nothing else is client-visible.
type Session struct {
	SessionID  string    `json:"session_id"`
	TrackerID  string    `json:"tracker_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
}

// VerificationCode is a one-time resume code. At most one record exists per
// (tracker, purpose); issuing a new code deletes and replaces the old one.
type VerificationCode struct {
	TrackerID      string    `json:"tracker_id"`
	IdentifierHash string    `json:"identifier_hash"`
	EmailHash      string    `json:"email_hash"`
	CodeHash       string    `json:"code_hash"`
	CodeSalt       string    `json:"code_salt"`
	PepperVersion  int       `json:"pepper_version"`
	Purpose        string    `json:"purpose"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// PurposeResume is currently the only verification purpose.
const PurposeResume = "resume"

// FormDocument is a sub-document owned by a tracker: the application form,
// policy acknowledgements, consents, appraisal records, training records.
// BlobKeys lists uploaded files (identification photos etc.) in blob storage.
type FormDocument struct {
	TrackerID string    `db:"tracker_id"`
	FormID    string    `db:"form_id"`
	FormType  string    `db:"form_type"`
	BlobKeys  []string  `db:"blob_keys"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}
