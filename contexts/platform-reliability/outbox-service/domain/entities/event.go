package entities

import (
	"encoding/json"
	"strings"
	"time"

	domainerrors "bulwark/contexts/platform-reliability/outbox-service/domain/errors"
)

const DefaultMaxAttempts = 5

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// ParseStatus rejects anything outside the closed status set.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !status.IsValid() {
		return "", domainerrors.ErrInvalidTransition
	}
	return status, nil
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo encodes pending|failed -> processing -> processed|failed.
// processed is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending, StatusFailed:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessed || next == StatusFailed
	default:
		return false
	}
}

// Claimable reports whether the relay may pick the event up.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusFailed
}

type Event struct {
	ID            string
	EventType     string
	Payload       json.RawMessage
	CorrelationID string
	ActorID       string
	Status        Status
	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	ProcessedAt   *time.Time
	LastError     string
}

// NewEvent builds a pending event. Empty payloads are stored as an empty
// JSON object; anything else must already be valid JSON.
func NewEvent(
	id string,
	eventType string,
	payload []byte,
	correlationID string,
	actorID string,
	createdAt time.Time,
) (Event, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(eventType) == "" {
		return Event{}, domainerrors.ErrInvalidEvent
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return Event{}, domainerrors.ErrInvalidEvent
	}
	return Event{
		ID:            strings.TrimSpace(id),
		EventType:     strings.TrimSpace(eventType),
		Payload:       append(json.RawMessage(nil), payload...),
		CorrelationID: strings.TrimSpace(correlationID),
		ActorID:       strings.TrimSpace(actorID),
		Status:        StatusPending,
		CreatedAt:     createdAt.UTC(),
	}, nil
}

// Exhausted reports whether the event has used up its publish budget.
func (e Event) Exhausted(maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return e.Attempts >= maxAttempts
}

// DeadLettered is a failed event that will never be fetched again.
func (e Event) DeadLettered(maxAttempts int) bool {
	return e.Status == StatusFailed && e.Exhausted(maxAttempts)
}
