package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BroadcastRepositoryImpl implements the BroadcastRepository interface
type BroadcastRepositoryImpl struct {
	*BaseRepository[models.Broadcast, models.BroadcastFilter]
}

// NewBroadcastRepository creates a new broadcast repository
func NewBroadcastRepository(db *gorm.DB) BroadcastRepository {
	return &BroadcastRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Broadcast, models.BroadcastFilter](db),
	}
}

// Update applies a partial update and returns the fresh row, nil when the id does not exist
func (r *BroadcastRepositoryImpl) Update(ctx context.Context, id uuid.UUID, update BroadcastUpdate) (*models.Broadcast, error) {
	updates := map[string]any{}
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Subject != nil {
		updates["subject"] = *update.Subject
	}
	if update.Content != nil {
		updates["content"] = *update.Content
	}
	if update.FromEmail != nil {
		updates["from_email"] = *update.FromEmail
	}
	if update.Status != nil {
		updates["status"] = *update.Status
	}
	if update.TargetCategory != nil {
		updates["target_category"] = *update.TargetCategory
	}
	return r.updateColumns(ctx, id, updates)
}

// UpdateStatus updates only the status of a broadcast
func (r *BroadcastRepositoryImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BroadcastStatus) error {
	db := r.getDB(ctx)
	err := db.Model(&models.Broadcast{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update broadcast status %s: %w", id, err)
	}
	return nil
}

// MarkDispatched records a successful send; nil timestamps are written as NULL
func (r *BroadcastRepositoryImpl) MarkDispatched(ctx context.Context, id uuid.UUID, result DispatchResult) (*models.Broadcast, error) {
	return r.updateColumns(ctx, id, map[string]any{
		"status":          result.Status,
		"scheduled_at":    result.ScheduledAt,
		"sent_at":         result.SentAt,
		"recipient_count": result.RecipientCount,
	})
}

func (r *BroadcastRepositoryImpl) updateColumns(ctx context.Context, id uuid.UUID, updates map[string]any) (result *models.Broadcast, err error) {
	db, err := r.getDBForWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { err = finish(db, err) }()

	updates["updated_at"] = utils.UTCNow()

	res := db.Model(&models.Broadcast{}).Where("id = ?", id).Updates(updates)
	if err = res.Error; err != nil {
		return nil, fmt.Errorf("failed to update broadcast %s: %w", id, err)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var row models.Broadcast
	if err = db.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to reload broadcast %s: %w", id, err)
	}
	return &row, nil
}

// ByFilter retrieves broadcasts based on filter criteria
func (r *BroadcastRepositoryImpl) ByFilter(ctx context.Context, filter models.BroadcastFilter, orderBy string, limit, offset int) ([]*models.Broadcast, error) {
	db := r.getDB(ctx)

	var broadcasts []*models.Broadcast
	query := r.applyFilter(db, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&broadcasts).Error; err != nil {
		return nil, fmt.Errorf("failed to find broadcasts: %w", err)
	}

	return broadcasts, nil
}

// Count returns the number of broadcasts matching the filter
func (r *BroadcastRepositoryImpl) Count(ctx context.Context, filter models.BroadcastFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Broadcast{}), filter)

	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count broadcasts: %w", err)
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *BroadcastRepositoryImpl) applyFilter(db *gorm.DB, filter models.BroadcastFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if len(filter.IDs) > 0 {
		db = db.Where("id = ANY(?::uuid[])", uuidArray(filter.IDs))
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.TargetCategory != nil {
		db = db.Where("target_category = ?", *filter.TargetCategory)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}
