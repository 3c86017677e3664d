package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"onboarding-service/internal/client"
	"onboarding-service/internal/util"
)

// Event is one row in the onboarding_events audit table.
type Event struct {
	EventID    string
	EventType  string
	TrackerID  string
	CompanyID  string
	Step       string
	Detail     string
	OccurredAt time.Time
}

const (
	EventTrackerCreated    = "tracker_created"
	EventStepSubmitted     = "step_submitted"
	EventResumeRequested   = "resume_requested"
	EventResumeVerified    = "resume_verified"
	EventTrackerCompleted  = "tracker_completed"
	EventTrackerTerminated = "tracker_terminated"
	EventTrackerDeleted    = "tracker_deleted"
)

// Recorder writes audit events. Implementations are best-effort: callers log
// failures and move on, the onboarding flow never depends on the audit path.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type ClickHouseRecorder struct {
	client *client.ClickHouseClient
}

func NewClickHouseRecorder(ch *client.ClickHouseClient) *ClickHouseRecorder {
	return &ClickHouseRecorder{client: ch}
}

func (r *ClickHouseRecorder) Record(ctx context.Context, event Event) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	err := r.client.Exec(ctx, `
        INSERT INTO onboarding_events (event_id, event_type, tracker_id, company_id, step, detail, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.EventType, event.TrackerID,
		event.CompanyID, event.Step, event.Detail, event.OccurredAt)

	if err != nil {
		util.Warn("audit event write failed",
			zap.String("event_type", event.EventType),
			zap.String("tracker_id", event.TrackerID),
			zap.Error(err))
		return
	}

	util.Debug("audit event recorded",
		zap.String("event_type", event.EventType),
		zap.String("tracker_id", event.TrackerID))
}

// NoopRecorder keeps the audit dependency optional in tests and local runs.
type NoopRecorder struct{}

func (NoopRecorder) Record(ctx context.Context, event Event) {}
