package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriberRepositoryImpl implements the SubscriberRepository interface
type SubscriberRepositoryImpl struct {
	*BaseRepository[models.Subscriber, models.SubscriberFilter]
}

// NewSubscriberRepository creates a new subscriber repository
func NewSubscriberRepository(db *gorm.DB) SubscriberRepository {
	return &SubscriberRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Subscriber, models.SubscriberFilter](db),
	}
}

// ByEmail retrieves a subscriber by normalized email
func (r *SubscriberRepositoryImpl) ByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	normalized := utils.NormalizeEmail(email)
	rows, err := r.ByFilter(ctx, models.SubscriberFilter{Email: &normalized}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ByUnsubscribeToken retrieves a subscriber by its unsubscribe token
func (r *SubscriberRepositoryImpl) ByUnsubscribeToken(ctx context.Context, token string) (*models.Subscriber, error) {
	rows, err := r.ByFilter(ctx, models.SubscriberFilter{UnsubscribeToken: &token}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ListActive returns every active subscriber, optionally narrowed to a category
func (r *SubscriberRepositoryImpl) ListActive(ctx context.Context, category *models.SubscriberCategory) ([]*models.Subscriber, error) {
	status := models.SubscriberStatusActive
	filter := models.SubscriberFilter{Status: &status, Category: category}
	return r.ByFilter(ctx, filter, OrderOldestFirst, 0, 0)
}

// Update applies a partial update and returns the fresh row, nil when the id does not exist
func (r *SubscriberRepositoryImpl) Update(ctx context.Context, id uuid.UUID, update SubscriberUpdate) (result *models.Subscriber, err error) {
	db, err := r.getDBForWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { err = finish(db, err) }()

	updates := map[string]any{
		"updated_at": utils.UTCNow(),
	}
	if update.Status != nil {
		updates["status"] = *update.Status
	}
	if update.Category != nil {
		updates["category"] = *update.Category
	}

	res := db.Model(&models.Subscriber{}).Where("id = ?", id).Updates(updates)
	if err = res.Error; err != nil {
		return nil, fmt.Errorf("failed to update subscriber %s: %w", id, err)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var row models.Subscriber
	if err = db.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to reload subscriber %s: %w", id, err)
	}
	return &row, nil
}

// CountActiveByCategory returns the number of active subscribers per category
func (r *SubscriberRepositoryImpl) CountActiveByCategory(ctx context.Context) (map[models.SubscriberCategory]int64, error) {
	type row struct {
		Category models.SubscriberCategory
		Total    int64
	}
	var rows []row
	db := r.getDB(ctx)
	if err := db.Model(&models.Subscriber{}).
		Select("category, COUNT(*) AS total").
		Where("status = ?", models.SubscriberStatusActive).
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscribers by category: %w", err)
	}

	out := make(map[models.SubscriberCategory]int64, len(models.SubscriberCategories))
	for _, c := range models.SubscriberCategories {
		out[c] = 0
	}
	for _, r := range rows {
		out[r.Category] = r.Total
	}
	return out, nil
}

// ByFilter retrieves subscribers based on filter criteria
func (r *SubscriberRepositoryImpl) ByFilter(ctx context.Context, filter models.SubscriberFilter, orderBy string, limit, offset int) ([]*models.Subscriber, error) {
	db := r.getDB(ctx)

	var subscribers []*models.Subscriber
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

	if err := query.Find(&subscribers).Error; err != nil {
		return nil, fmt.Errorf("failed to find subscribers: %w", err)
	}

	return subscribers, nil
}

// Count returns the number of subscribers matching the filter
func (r *SubscriberRepositoryImpl) Count(ctx context.Context, filter models.SubscriberFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.Subscriber{}), filter)

	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count subscribers: %w", err)
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *SubscriberRepositoryImpl) applyFilter(db *gorm.DB, filter models.SubscriberFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if len(filter.IDs) > 0 {
		db = db.Where("id = ANY(?::uuid[])", uuidArray(filter.IDs))
	}
	if filter.Email != nil {
		db = db.Where("email = ?", *filter.Email)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.Category != nil {
		db = db.Where("category = ?", *filter.Category)
	}
	if filter.UnsubscribeToken != nil {
		db = db.Where("unsubscribe_token = ?", *filter.UnsubscribeToken)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}
