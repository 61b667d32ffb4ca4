package events

import (
	"encoding/json"
	"time"
)

// Envelope is the wire shape of every event relayed from the outbox.
// Consumers de-duplicate on EventID; delivery is at-least-once.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	SourceService  string          `json:"source_service"`
	OccurredAtUTC  time.Time       `json:"occurred_at_utc"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	ActorID        string          `json:"actor_id,omitempty"`
	Attempt        int             `json:"attempt"`
	PayloadVersion int             `json:"payload_version"`
	Payload        json.RawMessage `json:"payload"`
}

// Key is the partition key used by brokers that order by key.
func (e Envelope) Key() string {
	if e.CorrelationID != "" {
		return e.CorrelationID
	}
	return e.EventID
}

// Headers are the transport headers mirrored from the envelope.
func (e Envelope) Headers() map[string]string {
	headers := map[string]string{
		"event_id":   e.EventID,
		"event_type": e.EventType,
	}
	if e.CorrelationID != "" {
		headers["correlation_id"] = e.CorrelationID
	}
	if e.ActorID != "" {
		headers["actor_id"] = e.ActorID
	}
	return headers
}
