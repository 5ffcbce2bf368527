package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventStatus is the delivery status of an eSocial event
type EventStatus string

const (
	// StatusPending means the event is waiting for a processing attempt
	StatusPending EventStatus = "PENDING"
	// StatusProcessing means a processing attempt is in flight
	StatusProcessing EventStatus = "PROCESSING"
	// StatusProcessed means the event was accepted by the gateway
	StatusProcessed EventStatus = "PROCESSED"
	// StatusError means the event failed terminally
	StatusError EventStatus = "ERROR"
)

// LogLevel is the severity of an event log entry
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelError LogLevel = "ERROR"
	LogLevelDebug LogLevel = "DEBUG"
)

// Event represents a single eSocial declaration awaiting or past delivery
type Event struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	EventType   string         `gorm:"not null;index" json:"event_type"`
	Status      EventStatus    `gorm:"not null;default:PENDING;index" json:"status"`
	Payload     []byte         `gorm:"type:jsonb;not null" json:"payload"`
	RetryCount  int            `gorm:"not null;default:0" json:"retry_count"`
	Error       *string        `json:"error,omitempty"`
	Protocol    *string        `json:"protocol,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Logs        []EventLog     `gorm:"foreignKey:EventID" json:"-"`
}

// EventLog is an append-only audit entry for an event
type EventLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EventID   uuid.UUID `gorm:"type:uuid;not null;index" json:"event_id"`
	Level     LogLevel  `gorm:"not null" json:"level"`
	Message   string    `gorm:"not null" json:"message"`
	Details   []byte    `gorm:"type:jsonb" json:"details,omitempty"`
	Timestamp time.Time `gorm:"autoCreateTime" json:"timestamp"`
}

// ReferenceItem is one row of an eSocial reference table (worker categories,
// payroll rubrics and the like), consulted during validation
type ReferenceItem struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	Table       string     `gorm:"column:table_name;not null;uniqueIndex:idx_ref_table_code" json:"table"`
	Code        string     `gorm:"not null;uniqueIndex:idx_ref_table_code" json:"code"`
	Description string     `gorm:"not null" json:"description"`
	Active      bool       `gorm:"not null;default:true" json:"active"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
}

// Reference table names used by the validator
const (
	RefTableCategories = "categorias-trabalhador"
	RefTableRubrics    = "rubricas"
)

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Event{},
		&EventLog{},
		&ReferenceItem{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
