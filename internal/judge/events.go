package judge

import (
	"context"
	"encoding/json"
	"time"

	"skillsnap/internal/common/mq"
	"skillsnap/internal/submission"
	"skillsnap/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultVerdictTopic = "skillsnap.submission.verdicts"

// VerdictEvent is published once per submission when it reaches a
// terminal status. Downstream consumers (progress dashboards, skill
// profiles) key on SubmissionID.
type VerdictEvent struct {
	SubmissionID string            `json:"submission_id"`
	UserID       string            `json:"user_id"`
	ProblemID    int64             `json:"problem_id"`
	LanguageID   string            `json:"language_id"`
	Status       submission.Status `json:"status"`
	Diagnostic   string            `json:"diagnostic,omitempty"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// EventPublisher emits verdict events. Publishing is best effort: the
// verdict is already durable in the database before the event goes out.
type EventPublisher struct {
	publisher mq.Publisher
	topic     string
}

func NewEventPublisher(publisher mq.Publisher, topic string) *EventPublisher {
	if topic == "" {
		topic = defaultVerdictTopic
	}
	return &EventPublisher{publisher: publisher, topic: topic}
}

func (p *EventPublisher) PublishVerdict(ctx context.Context, event VerdictEvent) {
	if p == nil || p.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error(ctx, "marshal verdict event failed",
			zap.String("submission_id", event.SubmissionID), zap.Error(err))
		return
	}
	message := mq.NewMessage(payload)
	message.ID = event.SubmissionID
	message.SetHeader("event-type", "submission.verdict")
	if err := p.publisher.Publish(ctx, p.topic, message); err != nil {
		logger.Warn(ctx, "publish verdict event failed",
			zap.String("submission_id", event.SubmissionID), zap.Error(err))
	}
}
