package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BroadcastStatus represents the lifecycle state of a broadcast
type BroadcastStatus string

const (
	BroadcastStatusDraft     BroadcastStatus = "draft"
	BroadcastStatusScheduled BroadcastStatus = "scheduled"
	BroadcastStatusSent      BroadcastStatus = "sent"
	BroadcastStatusFailed    BroadcastStatus = "failed"
)

// String returns the string representation of the status
func (s BroadcastStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s BroadcastStatus) Valid() bool {
	switch s {
	case BroadcastStatusDraft, BroadcastStatusScheduled,
		BroadcastStatusSent, BroadcastStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for BroadcastStatus
func (s *BroadcastStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = BroadcastStatus(v)
	case []byte:
		*s = BroadcastStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into BroadcastStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for BroadcastStatus
func (s BroadcastStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid BroadcastStatus: %s", s)
	}
	return string(s), nil
}

// BroadcastTarget is either "all" or one of the subscriber categories
type BroadcastTarget string

const BroadcastTargetAll BroadcastTarget = "all"

// String returns the string representation of the target
func (t BroadcastTarget) String() string {
	return string(t)
}

// Valid checks if the target is "all" or a valid subscriber category
func (t BroadcastTarget) Valid() bool {
	return t == BroadcastTargetAll || SubscriberCategory(t).Valid()
}

// IsAll reports whether the broadcast targets the whole audience
func (t BroadcastTarget) IsAll() bool {
	return t == BroadcastTargetAll || t == ""
}

// Category returns the subscriber category the target narrows to, nil for "all"
func (t BroadcastTarget) Category() *SubscriberCategory {
	if t.IsAll() {
		return nil
	}
	c := SubscriberCategory(t)
	return &c
}

// Scan implements the sql.Scanner interface for BroadcastTarget
func (t *BroadcastTarget) Scan(value any) error {
	if value == nil {
		*t = BroadcastTargetAll
		return nil
	}

	switch v := value.(type) {
	case string:
		*t = BroadcastTarget(v)
	case []byte:
		*t = BroadcastTarget(string(v))
	default:
		return fmt.Errorf("cannot scan %T into BroadcastTarget", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for BroadcastTarget
func (t BroadcastTarget) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid BroadcastTarget: %s", t)
	}
	return string(t), nil
}

// Broadcast represents an email campaign in the database
type Broadcast struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Title               string          `gorm:"type:text;not null" json:"title"`
	Subject             string          `gorm:"type:text;not null" json:"subject"`
	Content             string          `gorm:"type:text;not null" json:"content"`
	FromEmail           string          `gorm:"type:text;not null" json:"from_email"`
	AudienceID          string          `gorm:"type:text;not null" json:"audience_id"`
	TargetCategory      BroadcastTarget `gorm:"type:text;default:'all'" json:"target_category"`
	ProviderBroadcastID *string         `gorm:"column:resend_broadcast_id;type:text" json:"provider_broadcast_id,omitempty"`
	Status              BroadcastStatus `gorm:"type:text;not null;default:'draft';index:idx_broadcasts_status" json:"status"`
	ScheduledAt         *time.Time      `json:"scheduled_at,omitempty"`
	SentAt              *time.Time      `json:"sent_at,omitempty"`
	RecipientCount      int             `gorm:"default:0" json:"recipient_count"`
	CreatedAt           time.Time       `gorm:"not null;index:idx_broadcasts_created_at" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (Broadcast) TableName() string {
	return "broadcasts"
}

// BeforeCreate is called before creating a new record
func (b *Broadcast) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BroadcastStatusDraft
	}
	if b.TargetCategory == "" {
		b.TargetCategory = BroadcastTargetAll
	}
	now := utils.UTCNow()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	return nil
}

// IsEditable reports whether the UI should allow edits
func (b *Broadcast) IsEditable() bool {
	return b.Status == BroadcastStatusDraft || b.Status == BroadcastStatusFailed
}

// BroadcastFilter represents filter criteria for broadcasts
type BroadcastFilter struct {
	ID             *uuid.UUID       `json:"id,omitempty"`
	IDs            []uuid.UUID      `json:"ids,omitempty"`
	Status         *BroadcastStatus `json:"status,omitempty"`
	TargetCategory *BroadcastTarget `json:"target_category,omitempty"`
	CreatedAfter   *time.Time       `json:"created_after,omitempty"`
	CreatedBefore  *time.Time       `json:"created_before,omitempty"`
}
