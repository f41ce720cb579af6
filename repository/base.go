// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ErrDuplicateKey is returned when an insert or update violates a unique constraint
var ErrDuplicateKey = errors.New("duplicate key")

// uniqueViolation is the postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// BaseRepository provides the CRUD operations shared by every repository
type BaseRepository[T any, F any] struct {
	DB *gorm.DB
}

// NewBaseRepository creates a new base repository instance
func NewBaseRepository[T any, F any](db *gorm.DB) *BaseRepository[T, F] {
	return &BaseRepository[T, F]{
		DB: db,
	}
}

// getDB returns the database connection bound to ctx
func (r *BaseRepository[T, F]) getDB(ctx context.Context) *gorm.DB {
	return r.DB.WithContext(ctx)
}

// getDBForWrite opens a transaction for a write; finish commits or rolls it back
func (r *BaseRepository[T, F]) getDBForWrite(ctx context.Context) (*gorm.DB, error) {
	tx := r.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	return tx, nil
}

// finish commits or rolls back a transaction opened by getDBForWrite
func finish(db *gorm.DB, err error) error {
	if err != nil {
		db.Rollback()
		return err
	}
	if cerr := db.Commit().Error; cerr != nil {
		return fmt.Errorf("failed to commit transaction: %w", cerr)
	}
	return nil
}

// ByID retrieves an entity by its ID, nil when it does not exist
func (r *BaseRepository[T, F]) ByID(ctx context.Context, id uuid.UUID) (*T, error) {
	db := r.getDB(ctx)

	var entity T
	err := db.Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find entity by ID %s: %w", id, err)
	}

	return &entity, nil
}

// Save inserts a new entity
func (r *BaseRepository[T, F]) Save(ctx context.Context, entity *T) (err error) {
	db, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	defer func() { err = finish(db, err) }()

	if err = db.Create(entity).Error; err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("failed to save entity: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("failed to save entity: %w", err)
	}

	return nil
}

// Delete removes a single row by ID and reports whether a row was removed
func (r *BaseRepository[T, F]) Delete(ctx context.Context, id uuid.UUID) (deleted bool, err error) {
	db, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer func() { err = finish(db, err) }()

	res := db.Where("id = ?", id).Delete(new(T))
	if err = res.Error; err != nil {
		return false, fmt.Errorf("failed to delete entity %s: %w", id, err)
	}

	return res.RowsAffected > 0, nil
}

// DeleteByIDs removes every row whose ID is in ids with a single statement
func (r *BaseRepository[T, F]) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (count int64, err error) {
	if len(ids) == 0 {
		return 0, nil
	}

	db, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { err = finish(db, err) }()

	res := db.Where("id = ANY(?::uuid[])", uuidArray(ids)).Delete(new(T))
	if err = res.Error; err != nil {
		return 0, fmt.Errorf("failed to delete entities: %w", err)
	}

	return res.RowsAffected, nil
}

// IsDuplicateKey reports whether err is a unique constraint violation
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var stateErr interface{ SQLState() string }
	if errors.As(err, &stateErr) {
		return stateErr.SQLState() == uniqueViolation
	}
	return false
}

// uuidArray binds a uuid slice as a postgres text array
func uuidArray(ids []uuid.UUID) any {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return pq.Array(out)
}
