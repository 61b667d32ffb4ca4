package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"bulwark/contexts/platform-reliability/outbox-service/domain/entities"
	domainerrors "bulwark/contexts/platform-reliability/outbox-service/domain/errors"
)

type txKey struct{}

type pendingTx struct {
	created []entities.Event
}

// Store is an in-memory event record store. Transactions stage created events
// and publish them to the shared map only on commit.
type Store struct {
	mu       sync.RWMutex
	events   map[string]entities.Event
	sequence uint64
	nowFn    func() time.Time
}

func NewStore() *Store {
	return &Store{
		events: make(map[string]entities.Event),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the store clock. Tests use it to move time.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn().UTC()
}

func (s *Store) NewID(context.Context) (string, error) {
	n := atomic.AddUint64(&s.sequence, 1)
	return fmt.Sprintf("evt-%06d", n), nil
}

func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*pendingTx); ok {
		return fn(ctx)
	}
	tx := &pendingTx{}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range tx.created {
		if _, exists := s.events[event.ID]; exists {
			return domainerrors.ErrDuplicateEvent
		}
	}
	for _, event := range tx.created {
		s.events[event.ID] = event
	}
	return nil
}

func (s *Store) Create(ctx context.Context, event entities.Event) error {
	event = cloneEvent(event)
	if tx, ok := ctx.Value(txKey{}).(*pendingTx); ok {
		tx.created = append(tx.created, event)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return domainerrors.ErrDuplicateEvent
	}
	s.events[event.ID] = event
	return nil
}

func (s *Store) Get(_ context.Context, eventID string) (entities.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[eventID]
	if !ok {
		return entities.Event{}, domainerrors.ErrEventNotFound
	}
	return cloneEvent(event), nil
}

func (s *Store) ListClaimable(_ context.Context, limit int, maxAttempts int) ([]entities.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(limit, func(event entities.Event) bool {
		return event.Status.Claimable() && event.Attempts < maxAttempts
	}), nil
}

func (s *Store) Claim(_ context.Context, eventID string, maxAttempts int, now time.Time) (entities.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return entities.Event{}, domainerrors.ErrEventNotFound
	}
	if !event.Status.CanTransitionTo(entities.StatusProcessing) || event.Attempts >= maxAttempts {
		return entities.Event{}, domainerrors.ErrEventNotClaimable
	}
	attemptAt := now.UTC()
	event.Status = entities.StatusProcessing
	event.Attempts++
	event.LastAttemptAt = &attemptAt
	s.events[eventID] = event
	return cloneEvent(event), nil
}

func (s *Store) MarkProcessed(_ context.Context, eventID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return domainerrors.ErrEventNotFound
	}
	if event.Status == entities.StatusProcessed {
		return nil
	}
	if !event.Status.CanTransitionTo(entities.StatusProcessed) {
		return domainerrors.ErrInvalidTransition
	}
	processedAt := now.UTC()
	event.Status = entities.StatusProcessed
	event.ProcessedAt = &processedAt
	s.events[eventID] = event
	return nil
}

func (s *Store) MarkFailed(_ context.Context, eventID string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return domainerrors.ErrEventNotFound
	}
	if !event.Status.CanTransitionTo(entities.StatusFailed) {
		return domainerrors.ErrInvalidTransition
	}
	event.Status = entities.StatusFailed
	event.LastError = lastError
	s.events[eventID] = event
	return nil
}

func (s *Store) ReclaimStale(_ context.Context, lastAttemptBefore time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, event := range s.events {
		if event.Status != entities.StatusProcessing || event.LastAttemptAt == nil {
			continue
		}
		if !event.LastAttemptAt.Before(lastAttemptBefore) {
			continue
		}
		event.Status = entities.StatusFailed
		event.LastError = reason
		s.events[id] = event
		count++
	}
	return count, nil
}

func (s *Store) ListDeadLetters(_ context.Context, limit int, maxAttempts int) ([]entities.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(limit, func(event entities.Event) bool {
		return event.DeadLettered(maxAttempts)
	}), nil
}

func (s *Store) DeleteProcessedBefore(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, event := range s.events {
		if event.Status == entities.StatusProcessed && event.ProcessedAt != nil && event.ProcessedAt.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of committed events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) sortedLocked(limit int, keep func(entities.Event) bool) []entities.Event {
	items := make([]entities.Event, 0)
	for _, event := range s.events {
		if keep(event) {
			items = append(items, cloneEvent(event))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneEvent(event entities.Event) entities.Event {
	event.Payload = append([]byte(nil), event.Payload...)
	if event.LastAttemptAt != nil {
		value := *event.LastAttemptAt
		event.LastAttemptAt = &value
	}
	if event.ProcessedAt != nil {
		value := *event.ProcessedAt
		event.ProcessedAt = &value
	}
	return event
}
