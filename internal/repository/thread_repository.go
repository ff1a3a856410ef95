package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ragchat/internal/model"
)

type ThreadRepository struct {
	db *gorm.DB
}

func NewThreadRepository(db *gorm.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

func (r *ThreadRepository) Create(ctx context.Context, thread *model.Thread) error {
	if err := r.db.WithContext(ctx).Create(thread).Error; err != nil {
		return fmt.Errorf("create thread failed: %w", err)
	}
	return nil
}

// GetByIDAndUserID loads a thread with its base collection.
func (r *ThreadRepository) GetByIDAndUserID(ctx context.Context, id, userID uint) (*model.Thread, error) {
	var thread model.Thread
	err := r.db.WithContext(ctx).
		Preload("BaseCollection").
		Where("id = ? AND user_id = ?", id, userID).
		First(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query thread failed: %w", err)
	}
	return &thread, nil
}

func (r *ThreadRepository) DeleteByIDAndUserID(ctx context.Context, id, userID uint) error {
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Thread{}).Error; err != nil {
		return fmt.Errorf("delete thread failed: %w", err)
	}
	return nil
}

// OwnsLoc reports whether one of the user's threads is stored at loc.
func (r *ThreadRepository) OwnsLoc(ctx context.Context, userID uint, loc string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Thread{}).Where("user_id = ? AND loc = ?", userID, loc).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count thread locs failed: %w", err)
	}
	return n > 0, nil
}

// ListLocs returns every vector-store location referenced by a thread.
func (r *ThreadRepository) ListLocs(ctx context.Context) ([]string, error) {
	var locs []string
	if err := r.db.WithContext(ctx).Model(&model.Thread{}).Where("loc <> ''").Distinct().Pluck("loc", &locs).Error; err != nil {
		return nil, fmt.Errorf("list thread locs failed: %w", err)
	}
	return locs, nil
}
