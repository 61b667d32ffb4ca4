package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bulwark/contexts/platform-reliability/outbox-service/domain/entities"
	domainerrors "bulwark/contexts/platform-reliability/outbox-service/domain/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txKey struct{}

// DB returns the transaction bound to ctx by WithinTransaction, or fallback
// when ctx carries none. Business writers use it so their rows share the
// outbox transaction.
func DB(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates the outbox table and its relay index.
func (r *Repository) Migrate(ctx context.Context) error {
	conn := r.db.WithContext(ctx)
	if err := conn.AutoMigrate(&eventModel{}); err != nil {
		return err
	}
	return conn.Exec(
		"CREATE INDEX IF NOT EXISTS outbox_events_claimable_idx ON outbox_events (created_at) WHERE status IN ('pending', 'failed')",
	).Error
}

func (r *Repository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (r *Repository) Create(ctx context.Context, event entities.Event) error {
	row := eventModelFromEntity(event)
	if err := DB(ctx, r.db).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			r.logger.Warn("outbox event id collision",
				"event", "outbox_event_id_collision",
				"module", "platform-reliability/outbox-service",
				"layer", "adapter",
				"event_id", event.ID,
				"constraint", constraintName(err),
			)
			return domainerrors.ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, eventID string) (entities.Event, error) {
	var row eventModel
	err := DB(ctx, r.db).Where("id = ?", eventID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Event{}, domainerrors.ErrEventNotFound
		}
		return entities.Event{}, err
	}
	return row.toEntity()
}

func (r *Repository) ListClaimable(ctx context.Context, limit int, maxAttempts int) ([]entities.Event, error) {
	var rows []eventModel
	if err := DB(ctx, r.db).
		Where("status IN ? AND attempts < ?", claimableStatuses(), maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	return toEntities(rows)
}

func (r *Repository) Claim(ctx context.Context, eventID string, maxAttempts int, now time.Time) (entities.Event, error) {
	var row eventModel
	result := DB(ctx, r.db).
		Model(&row).
		Clauses(clause.Returning{}).
		Where("id = ? AND status IN ? AND attempts < ?", eventID, claimableStatuses(), maxAttempts).
		Updates(map[string]any{
			"status":          string(entities.StatusProcessing),
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": now.UTC(),
		})
	if result.Error != nil {
		return entities.Event{}, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, eventID); err != nil {
			return entities.Event{}, err
		}
		return entities.Event{}, domainerrors.ErrEventNotClaimable
	}
	return row.toEntity()
}

func (r *Repository) MarkProcessed(ctx context.Context, eventID string, now time.Time) error {
	result := DB(ctx, r.db).
		Model(&eventModel{}).
		Where("id = ? AND status = ?", eventID, string(entities.StatusProcessing)).
		Updates(map[string]any{
			"status":       string(entities.StatusProcessed),
			"processed_at": now.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := r.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if current.Status == entities.StatusProcessed {
		return nil
	}
	return domainerrors.ErrInvalidTransition
}

func (r *Repository) MarkFailed(ctx context.Context, eventID string, lastError string) error {
	result := DB(ctx, r.db).
		Model(&eventModel{}).
		Where("id = ? AND status = ?", eventID, string(entities.StatusProcessing)).
		Updates(map[string]any{
			"status":     string(entities.StatusFailed),
			"last_error": lastError,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, eventID); err != nil {
			return err
		}
		return domainerrors.ErrInvalidTransition
	}
	return nil
}

func (r *Repository) ReclaimStale(ctx context.Context, lastAttemptBefore time.Time, reason string) (int, error) {
	result := DB(ctx, r.db).
		Model(&eventModel{}).
		Where("status = ? AND last_attempt_at < ?", string(entities.StatusProcessing), lastAttemptBefore.UTC()).
		Updates(map[string]any{
			"status":     string(entities.StatusFailed),
			"last_error": reason,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) ListDeadLetters(ctx context.Context, limit int, maxAttempts int) ([]entities.Event, error) {
	var rows []eventModel
	if err := DB(ctx, r.db).
		Where("status = ? AND attempts >= ?", string(entities.StatusFailed), maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	return toEntities(rows)
}

// DeleteProcessedBefore removes processed rows in batches so a large backlog
// never holds one long delete lock.
func (r *Repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		result := DB(ctx, r.db).Exec(
			`DELETE FROM outbox_events WHERE id IN (
				SELECT id FROM outbox_events
				WHERE status = ? AND processed_at < ?
				ORDER BY processed_at ASC
				LIMIT ?
			)`,
			string(entities.StatusProcessed), cutoff.UTC(), batchSize,
		)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			return total, nil
		}
	}
}

type eventModel struct {
	ID            string     `gorm:"column:id;type:uuid;primaryKey"`
	EventType     string     `gorm:"column:event_type;not null;index"`
	Payload       []byte     `gorm:"column:payload;type:jsonb;not null"`
	CorrelationID string     `gorm:"column:correlation_id"`
	ActorID       string     `gorm:"column:actor_id"`
	Status        string     `gorm:"column:status;not null;index"`
	Attempts      int        `gorm:"column:attempts;not null;default:0"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	LastAttemptAt *time.Time `gorm:"column:last_attempt_at"`
	ProcessedAt   *time.Time `gorm:"column:processed_at"`
	LastError     string     `gorm:"column:last_error"`
}

func (eventModel) TableName() string {
	return "outbox_events"
}

func eventModelFromEntity(event entities.Event) eventModel {
	return eventModel{
		ID:            event.ID,
		EventType:     event.EventType,
		Payload:       append([]byte(nil), event.Payload...),
		CorrelationID: event.CorrelationID,
		ActorID:       event.ActorID,
		Status:        string(event.Status),
		Attempts:      event.Attempts,
		CreatedAt:     event.CreatedAt.UTC(),
		LastAttemptAt: event.LastAttemptAt,
		ProcessedAt:   event.ProcessedAt,
		LastError:     event.LastError,
	}
}

func (m eventModel) toEntity() (entities.Event, error) {
	status, err := entities.ParseStatus(m.Status)
	if err != nil {
		return entities.Event{}, domainerrors.ErrRepositoryInvariantBroke
	}
	return entities.Event{
		ID:            m.ID,
		EventType:     m.EventType,
		Payload:       append([]byte(nil), m.Payload...),
		CorrelationID: m.CorrelationID,
		ActorID:       m.ActorID,
		Status:        status,
		Attempts:      m.Attempts,
		CreatedAt:     m.CreatedAt.UTC(),
		LastAttemptAt: utcPtr(m.LastAttemptAt),
		ProcessedAt:   utcPtr(m.ProcessedAt),
		LastError:     m.LastError,
	}, nil
}

func toEntities(rows []eventModel) ([]entities.Event, error) {
	items := make([]entities.Event, 0, len(rows))
	for _, row := range rows {
		item, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func claimableStatuses() []string {
	return []string{string(entities.StatusPending), string(entities.StatusFailed)}
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
