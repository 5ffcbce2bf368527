package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/dompay/services/esocial/internal/cache"
	"example.com/dompay/services/esocial/internal/models"
)

// EventRepository provides access to event and audit-log data. Status
// transitions go through the Mark* methods so a PROCESSED row always carries
// its protocol and timestamp.
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create persists a new event in PENDING state
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Status = models.StatusPending
	event.RetryCount = 0

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(event).Error; err != nil {
		return errors.Wrap(err, "failed to create event")
	}
	return nil
}

// GetByID gets an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event by ID")
	}
	return &event, nil
}

// ListRecent lists events most-recent-first, optionally filtered by status
func (r *EventRepository) ListRecent(ctx context.Context, status models.EventStatus, limit int) ([]models.Event, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var events []models.Event
	if err := query.Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	return events, nil
}

// FindPending selects events awaiting delivery: PENDING status with retry
// budget left, oldest first, bounded by limit
func (r *EventRepository) FindPending(ctx context.Context, eventType string, maxRetries, limit int) ([]models.Event, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", models.StatusPending, maxRetries).
		Order("created_at ASC").
		Limit(limit)
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}

	var events []models.Event
	if err := query.Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find pending events")
	}
	return events, nil
}

// IncrementRetry bumps the attempt counter and returns the new value
func (r *EventRepository) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1"))
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to increment retry count")
	}
	if result.RowsAffected == 0 {
		return 0, errors.New("no event updated")
	}

	var event models.Event
	if err := r.db.WithContext(ctx).Select("retry_count").First(&event, "id = ?", id).Error; err != nil {
		return 0, errors.Wrap(err, "failed to read retry count")
	}
	return event.RetryCount, nil
}

// MarkProcessing moves an event from PENDING to PROCESSING
func (r *EventRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ? AND status IN ?", id, []models.EventStatus{models.StatusPending, models.StatusProcessing}).
		Update("status", models.StatusProcessing)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark event as processing")
	}
	if result.RowsAffected == 0 {
		return errors.New("event is not pending")
	}
	return nil
}

// MarkProcessed records terminal success with the gateway protocol
func (r *EventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, protocol string, processedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.StatusProcessed,
			"protocol":     protocol,
			"processed_at": processedAt,
			"error":        nil,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark event as processed")
	}
	if result.RowsAffected == 0 {
		return errors.New("no event updated")
	}
	return nil
}

// MarkError records terminal failure with the last error message
func (r *EventRepository) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status": models.StatusError,
			"error":  message,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark event as errored")
	}
	if result.RowsAffected == 0 {
		return errors.New("no event updated")
	}
	return nil
}

// ResetForResend returns a terminally failed event to PENDING with a fresh
// retry budget
func (r *EventRepository) ResetForResend(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ? AND status = ?", id, models.StatusError).
		Updates(map[string]interface{}{
			"status":      models.StatusPending,
			"retry_count": 0,
			"error":       nil,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to reset event for resend")
	}
	if result.RowsAffected == 0 {
		return errors.New("event is not in error state")
	}
	return nil
}

// AppendLog records an audit entry for an event
func (r *EventRepository) AppendLog(ctx context.Context, eventID uuid.UUID, level models.LogLevel, message string, details map[string]interface{}) error {
	entry := models.EventLog{
		ID:      uuid.New(),
		EventID: eventID,
		Level:   level,
		Message: message,
	}

	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return errors.Wrap(err, "failed to marshal log details")
		}
		entry.Details = data
	}

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return errors.Wrap(err, "failed to append event log")
	}
	return nil
}

// GetLogs lists the audit entries for an event, oldest first
func (r *EventRepository) GetLogs(ctx context.Context, eventID uuid.UUID) ([]models.EventLog, error) {
	var logs []models.EventLog
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("timestamp ASC").
		Find(&logs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event logs")
	}
	return logs, nil
}

// ReferenceRepository provides access to eSocial reference tables with a
// Redis read-through cache
type ReferenceRepository struct {
	db    *gorm.DB
	cache *cache.RedisCache
}

// NewReferenceRepository creates a new reference repository
func NewReferenceRepository(db *gorm.DB, redisCache *cache.RedisCache) *ReferenceRepository {
	return &ReferenceRepository{db: db, cache: redisCache}
}

// CodeExists reports whether a code is active in the given reference table
func (r *ReferenceRepository) CodeExists(ctx context.Context, table, code string) (bool, error) {
	key := cache.GetReferenceCacheKey(table, code)

	if r.cache.Enabled() {
		var exists bool
		if err := r.cache.Get(ctx, key, &exists); err == nil {
			return exists, nil
		}
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReferenceItem{}).
		Where("table_name = ? AND code = ? AND active = ?", table, code, true).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to look up reference code")
	}

	exists := count > 0
	if r.cache.Enabled() {
		if err := r.cache.Set(ctx, key, exists, time.Hour); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache reference lookup")
		}
	}

	return exists, nil
}

// Seed upserts reference items, keyed by table and code
func (r *ReferenceRepository) Seed(ctx context.Context, items []models.ReferenceItem) error {
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "table_name"}, {Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "active", "valid_from", "valid_to"}),
		}).
		Create(&items).Error
	if err != nil {
		return errors.Wrap(err, "failed to seed reference items")
	}
	return nil
}
