package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"onboarding-service/internal/client"
	"onboarding-service/internal/config"
	"onboarding-service/internal/util"
)

// ResumeCodeMail is the payload the notification pipeline turns into the
// "your verification code" email.
type ResumeCodeMail struct {
	ToEmail   string `json:"to_email"`
	Code      string `json:"code"`
	CompanyID string `json:"company_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Dispatcher hands mail off for asynchronous delivery.
type Dispatcher interface {
	SendResumeCode(ctx context.Context, mail ResumeCodeMail) error
}

// KafkaDispatcher publishes mail requests to the mail topic. Delivery is the
// consumer's problem; the onboarding flow never blocks on SMTP.
type KafkaDispatcher struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaDispatcher(producer *client.KafkaProducer, cfg *config.Config) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: producer,
		topic:    cfg.Kafka.MailTopic,
	}
}

func (d *KafkaDispatcher) SendResumeCode(ctx context.Context, mail ResumeCodeMail) error {
	payload, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("failed to marshal resume code mail: %w", err)
	}

	headers := map[string]string{"mail_type": "resume_code"}
	if err := d.producer.ProduceMessage(ctx, d.topic, []byte(mail.ToEmail), payload, headers); err != nil {
		return fmt.Errorf("failed to dispatch resume code mail: %w", err)
	}

	util.Debug("Resume code mail dispatched",
		zap.String("company_id", mail.CompanyID))

	return nil
}

// NoopDispatcher logs instead of sending. Used when Kafka is not configured,
// which means local runs still surface that a code was issued.
type NoopDispatcher struct{}

func (NoopDispatcher) SendResumeCode(ctx context.Context, mail ResumeCodeMail) error {
	util.Warn("Mail dispatch skipped, no producer configured",
		zap.String("to", util.MaskEmail(mail.ToEmail)))
	return nil
}
