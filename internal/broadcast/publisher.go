package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"live-quiz-service/internal/domain"
)

// Message types on the wire.
const (
	TypeUpdate   = "update"
	TypeEvent    = "event"
	TypeSnapshot = "snapshot"
)

func CourseTopic(courseID int64) string {
	return fmt.Sprintf("course_%d", courseID)
}

func SessionTopic(sessionID int64) string {
	return fmt.Sprintf("live_%d", sessionID)
}

// CourseUpdate is pushed on a course topic. Remove carries only the id.
type CourseUpdate struct {
	Type    string          `json:"type"`
	Op      domain.CourseOp `json:"op"`
	Session any             `json:"session"`
}

// SessionUpdate is a sparse delta on a session topic.
type SessionUpdate struct {
	Type string `json:"type"`
	domain.SessionDelta
}

type SessionEvent struct {
	Type string `json:"type"`
	domain.SessionEvent
}

// Publisher encodes state machine outcomes onto broker topics.
type Publisher struct {
	broker Broker
}

func NewPublisher(broker Broker) *Publisher {
	return &Publisher{broker: broker}
}

func (p *Publisher) PublishCourseEvent(ctx context.Context, courseID int64, op domain.CourseOp, summary domain.CourseSessionSummary) error {
	msg := CourseUpdate{Type: TypeUpdate, Op: op, Session: summary}
	if op == domain.CourseOpRemove {
		msg.Session = struct {
			ID int64 `json:"id"`
		}{ID: summary.ID}
	}
	return p.publish(ctx, CourseTopic(courseID), msg)
}

func (p *Publisher) PublishSessionUpdate(ctx context.Context, sessionID int64, delta domain.SessionDelta) error {
	return p.publish(ctx, SessionTopic(sessionID), SessionUpdate{Type: TypeUpdate, SessionDelta: delta})
}

func (p *Publisher) PublishSessionEvent(ctx context.Context, sessionID int64, ev domain.SessionEvent) error {
	return p.publish(ctx, SessionTopic(sessionID), SessionEvent{Type: TypeEvent, SessionEvent: ev})
}

func (p *Publisher) publish(ctx context.Context, topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}
	return p.broker.Publish(ctx, topic, payload)
}
