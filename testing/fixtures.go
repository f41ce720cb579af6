package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/google/uuid"
)

// SubscriberColumns is the column order used by SubscriberRows
var SubscriberColumns = []string{
	"id", "email", "status", "resend_contact_id", "category",
	"subscription_date", "unsubscribe_token", "source", "created_at", "updated_at",
}

// BroadcastColumns is the column order used by BroadcastRows
var BroadcastColumns = []string{
	"id", "title", "subject", "content", "from_email", "audience_id", "target_category",
	"resend_broadcast_id", "status", "scheduled_at", "sent_at", "recipient_count",
	"created_at", "updated_at",
}

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestSubscriber inserts an active subscriber in the given category
func (tf *TestFixtures) CreateTestSubscriber(category models.SubscriberCategory) (*models.Subscriber, error) {
	s := NewSubscriber(RandomEmail(), category)
	if err := tf.DB.DB.Create(s).Error; err != nil {
		return nil, fmt.Errorf("failed to create test subscriber: %w", err)
	}
	return s, nil
}

// CreateTestBroadcast inserts a draft broadcast with the given target
func (tf *TestFixtures) CreateTestBroadcast(target models.BroadcastTarget) (*models.Broadcast, error) {
	b := NewBroadcast(target)
	if err := tf.DB.DB.Create(b).Error; err != nil {
		return nil, fmt.Errorf("failed to create test broadcast: %w", err)
	}
	return b, nil
}

// RandomEmail returns a unique-looking address under example.com
func RandomEmail() string {
	return fmt.Sprintf("reader.%09d@example.com", rand.Intn(900000000)+100000000)
}

// NewSubscriber builds an unsaved active subscriber with every column filled in
func NewSubscriber(email string, category models.SubscriberCategory) *models.Subscriber {
	now := utils.UTCNow().Truncate(time.Microsecond)
	return &models.Subscriber{
		ID:                uuid.New(),
		Email:             utils.NormalizeEmail(email),
		Status:            models.SubscriberStatusActive,
		ProviderContactID: utils.ToPtr("contact_" + uuid.NewString()[:8]),
		Category:          category,
		SubscriptionDate:  now,
		UnsubscribeToken:  uuid.NewString(),
		Source:            models.SubscriberSourceManual,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// NewBroadcast builds an unsaved draft broadcast
func NewBroadcast(target models.BroadcastTarget) *models.Broadcast {
	now := utils.UTCNow().Truncate(time.Microsecond)
	return &models.Broadcast{
		ID:             uuid.New(),
		Title:          "Monthly digest",
		Subject:        "What happened this month",
		Content:        "<p>Hello readers</p>",
		FromEmail:      utils.DefaultFromEmail,
		AudienceID:     "aud_test",
		TargetCategory: target,
		Status:         models.BroadcastStatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SubscriberRows renders subscribers as sqlmock result rows
func SubscriberRows(subscribers ...*models.Subscriber) *sqlmock.Rows {
	rows := sqlmock.NewRows(SubscriberColumns)
	for _, s := range subscribers {
		rows.AddRow(
			s.ID.String(), s.Email, string(s.Status), nullable(s.ProviderContactID), string(s.Category),
			s.SubscriptionDate, s.UnsubscribeToken, s.Source, s.CreatedAt, s.UpdatedAt,
		)
	}
	return rows
}

// BroadcastRows renders broadcasts as sqlmock result rows
func BroadcastRows(broadcasts ...*models.Broadcast) *sqlmock.Rows {
	rows := sqlmock.NewRows(BroadcastColumns)
	for _, b := range broadcasts {
		rows.AddRow(
			b.ID.String(), b.Title, b.Subject, b.Content, b.FromEmail, b.AudienceID, string(b.TargetCategory),
			nullable(b.ProviderBroadcastID), string(b.Status), nullable(b.ScheduledAt), nullable(b.SentAt), b.RecipientCount,
			b.CreatedAt, b.UpdatedAt,
		)
	}
	return rows
}

// nullable turns a nil pointer into a SQL NULL and dereferences the rest
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
