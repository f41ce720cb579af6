// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/google/uuid"
)

// Orderings accepted by ByFilter. The id tiebreak keeps LIMIT/OFFSET pages stable
// when rows share a created_at.
const (
	OrderNewestFirst = "created_at DESC, id DESC"
	OrderOldestFirst = "created_at ASC, id ASC"
)

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uuid.UUID) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	Count(ctx context.Context, filter F) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// SubscriberUpdate holds the mutable subscriber fields; nil fields are left untouched
type SubscriberUpdate struct {
	Status   *models.SubscriberStatus
	Category *models.SubscriberCategory
}

// SubscriberRepository defines operations for newsletter subscribers
type SubscriberRepository interface {
	Repository[models.Subscriber, models.SubscriberFilter]
	ByEmail(ctx context.Context, email string) (*models.Subscriber, error)
	ByUnsubscribeToken(ctx context.Context, token string) (*models.Subscriber, error)
	ListActive(ctx context.Context, category *models.SubscriberCategory) ([]*models.Subscriber, error)
	Update(ctx context.Context, id uuid.UUID, update SubscriberUpdate) (*models.Subscriber, error)
	CountActiveByCategory(ctx context.Context) (map[models.SubscriberCategory]int64, error)
}

// BroadcastUpdate holds the editable broadcast fields; nil fields are left untouched
type BroadcastUpdate struct {
	Title          *string
	Subject        *string
	Content        *string
	FromEmail      *string
	Status         *models.BroadcastStatus
	TargetCategory *models.BroadcastTarget
}

// DispatchResult is written after a successful send; exactly one of ScheduledAt and SentAt is set
type DispatchResult struct {
	Status         models.BroadcastStatus
	ScheduledAt    *time.Time
	SentAt         *time.Time
	RecipientCount int
}

// BroadcastRepository defines operations for broadcasts
type BroadcastRepository interface {
	Repository[models.Broadcast, models.BroadcastFilter]
	Update(ctx context.Context, id uuid.UUID, update BroadcastUpdate) (*models.Broadcast, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.BroadcastStatus) error
	MarkDispatched(ctx context.Context, id uuid.UUID, result DispatchResult) (*models.Broadcast, error)
}
