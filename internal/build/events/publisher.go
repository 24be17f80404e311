// Package events publishes run events for downstream consumers such as progress tracking.
package events

import (
	"context"
	"encoding/json"
	"time"

	"contractlab/internal/build/model"
	"contractlab/internal/common/mq"
	appErr "contractlab/pkg/errors"
	"contractlab/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTopic receives every run event.
const DefaultTopic = "contractlab.runs"

const headerKind = "x-run-kind"

// RunEvent describes one finished compile or test run.
type RunEvent struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"projectId"`
	UserID       string        `json:"userId,omitempty"`
	CourseID     string        `json:"courseId"`
	LessonID     string        `json:"lessonId,omitempty"`
	Kind         model.RunKind `json:"kind"`
	Success      bool          `json:"success"`
	TimedOut     bool          `json:"timedOut"`
	ContractName string        `json:"contractName"`
	DurationMs   int64         `json:"durationMs"`
	ErrorCount   int           `json:"errorCount"`
	TestCount    int           `json:"testCount"`
	PassedCount  int           `json:"passedCount"`
	FailedCount  int           `json:"failedCount"`
	CreatedAt    int64         `json:"createdAt"`
}

// NewRunEvent builds an event from a run summary.
func NewRunEvent(key model.OwnerKey, lessonID string, summary model.RunSummary) RunEvent {
	key = key.Normalize()
	return RunEvent{
		ProjectID:    key.String(),
		UserID:       key.UserID,
		CourseID:     key.CourseID,
		LessonID:     lessonID,
		Kind:         summary.Kind,
		Success:      summary.Success,
		TimedOut:     summary.TimedOut,
		ContractName: summary.ContractName,
		DurationMs:   summary.DurationMs,
		ErrorCount:   summary.ErrorCount,
		TestCount:    summary.TestCount,
		PassedCount:  summary.PassedCount,
		FailedCount:  summary.FailedCount,
		CreatedAt:    summary.FinishedAt.Unix(),
	}
}

// Publisher sends run events to a broker topic.
type Publisher struct {
	producer mq.Producer
	topic    string
}

// NewPublisher returns a publisher; a nil producer turns PublishRun into a no-op.
func NewPublisher(producer mq.Producer, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{producer: producer, topic: topic}
}

// Enabled reports whether events are sent anywhere.
func (p *Publisher) Enabled() bool {
	return p != nil && p.producer != nil
}

// PublishRun publishes one run event. The project id is the partition key so
// the events of one project stay ordered.
func (p *Publisher) PublishRun(ctx context.Context, event RunEvent) error {
	if !p.Enabled() {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "encode run event failed")
	}
	message := mq.NewMessage(payload)
	message.ID = event.ProjectID
	message.SetHeader(headerKind, string(event.Kind))
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		logger.Warn(ctx, "publish run event failed",
			zap.String("event_id", event.ID),
			zap.String("topic", p.topic),
			zap.Error(err),
		)
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish run event failed")
	}
	return nil
}

// Close releases the underlying producer.
func (p *Publisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.producer.Close()
}
