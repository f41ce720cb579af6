package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriberStatus represents the subscription status of a subscriber
type SubscriberStatus string

const (
	SubscriberStatusActive       SubscriberStatus = "active"
	SubscriberStatusUnsubscribed SubscriberStatus = "unsubscribed"
)

// String returns the string representation of the status
func (s SubscriberStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s SubscriberStatus) Valid() bool {
	switch s {
	case SubscriberStatusActive, SubscriberStatusUnsubscribed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for SubscriberStatus
func (s *SubscriberStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = SubscriberStatus(v)
	case []byte:
		*s = SubscriberStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SubscriberStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for SubscriberStatus
func (s SubscriberStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid SubscriberStatus: %s", s)
	}
	return string(s), nil
}

// SubscriberCategory partitions subscribers into sub-lists for targeted sends
type SubscriberCategory string

const (
	SubscriberCategoryGeneral       SubscriberCategory = "general"
	SubscriberCategoryAnnouncements SubscriberCategory = "announcements"
	SubscriberCategoryUpdates       SubscriberCategory = "updates"
	SubscriberCategoryNewsletters   SubscriberCategory = "newsletters"
	SubscriberCategoryPromotions    SubscriberCategory = "promotions"
)

// SubscriberCategories lists every category in display order
var SubscriberCategories = []SubscriberCategory{
	SubscriberCategoryGeneral,
	SubscriberCategoryAnnouncements,
	SubscriberCategoryUpdates,
	SubscriberCategoryNewsletters,
	SubscriberCategoryPromotions,
}

// String returns the string representation of the category
func (c SubscriberCategory) String() string {
	return string(c)
}

// Valid checks if the category is valid
func (c SubscriberCategory) Valid() bool {
	switch c {
	case SubscriberCategoryGeneral, SubscriberCategoryAnnouncements,
		SubscriberCategoryUpdates, SubscriberCategoryNewsletters,
		SubscriberCategoryPromotions:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for SubscriberCategory
func (c *SubscriberCategory) Scan(value any) error {
	if value == nil {
		*c = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*c = SubscriberCategory(v)
	case []byte:
		*c = SubscriberCategory(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SubscriberCategory", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for SubscriberCategory
func (c SubscriberCategory) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid SubscriberCategory: %s", c)
	}
	return string(c), nil
}

// Subscriber sources
const (
	SubscriberSourceAPI    = "api"
	SubscriberSourceImport = "import"
	SubscriberSourceManual = "manual"
)

// Subscriber represents a newsletter subscriber in the database
type Subscriber struct {
	ID                uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	Email             string             `gorm:"type:text;not null;uniqueIndex:uk_newsletter_subscribers_email" json:"email"`
	Status            SubscriberStatus   `gorm:"type:text;not null;default:'active';index:idx_newsletter_subscribers_status" json:"status"`
	ProviderContactID *string            `gorm:"column:resend_contact_id;type:text" json:"provider_contact_id,omitempty"`
	Category          SubscriberCategory `gorm:"type:text;not null;default:'general';index:idx_newsletter_subscribers_category" json:"category"`
	SubscriptionDate  time.Time          `gorm:"not null" json:"subscription_date"`
	UnsubscribeToken  string             `gorm:"type:text;uniqueIndex:uk_newsletter_subscribers_unsubscribe_token" json:"-"`
	Source            string             `gorm:"type:text;default:'manual'" json:"source"`
	CreatedAt         time.Time          `gorm:"not null;index:idx_newsletter_subscribers_created_at" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (Subscriber) TableName() string {
	return "newsletter_subscribers"
}

// BeforeCreate is called before creating a new record
func (s *Subscriber) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SubscriberStatusActive
	}
	if s.Category == "" {
		s.Category = SubscriberCategoryGeneral
	}
	if s.Source == "" {
		s.Source = SubscriberSourceManual
	}
	now := utils.UTCNow()
	if s.SubscriptionDate.IsZero() {
		s.SubscriptionDate = now
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	return nil
}

// IsActive reports whether the subscriber receives broadcasts
func (s *Subscriber) IsActive() bool {
	return s.Status == SubscriberStatusActive
}

// SubscriberFilter represents filter criteria for subscribers
type SubscriberFilter struct {
	ID               *uuid.UUID          `json:"id,omitempty"`
	IDs              []uuid.UUID         `json:"ids,omitempty"`
	Email            *string             `json:"email,omitempty"`
	Status           *SubscriberStatus   `json:"status,omitempty"`
	Category         *SubscriberCategory `json:"category,omitempty"`
	UnsubscribeToken *string             `json:"-"`
	CreatedAfter     *time.Time          `json:"created_after,omitempty"`
	CreatedBefore    *time.Time          `json:"created_before,omitempty"`
}
