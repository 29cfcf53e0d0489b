// Package domain holds the telemetry event published by the collector.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published by the collector.
const (
	EventTokenIssued       = "feedback.token_issued"
	EventFeedbackSubmitted = "feedback.submitted"
)

// Event is one telemetry event. It is the JSON value of a Kafka message and the
// line pushed to Loki.
type Event struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent returns an event of eventType with a fresh ID, stamped now.
func NewEvent(eventType, source string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// WithMetadata sets Metadata to the JSON encoding of v. Encoding failures leave Metadata unset.
func (e *Event) WithMetadata(v any) *Event {
	if raw, err := json.Marshal(v); err == nil {
		e.Metadata = raw
	}
	return e
}
