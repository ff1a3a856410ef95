package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ragchat/internal/model"
)

type CollectionRepository struct {
	db *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

func (r *CollectionRepository) Create(ctx context.Context, c *model.Collection) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create collection failed: %w", err)
	}
	return nil
}

func (r *CollectionRepository) GetByID(ctx context.Context, id uint) (*model.Collection, error) {
	var c model.Collection
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query collection failed: %w", err)
	}
	return &c, nil
}

// GetOrCreateByName returns the user's collection with name, creating a
// document collection stored at loc when it does not exist.
func (r *CollectionRepository) GetOrCreateByName(ctx context.Context, userID uint, name, loc string) (*model.Collection, error) {
	var c model.Collection
	err := r.db.WithContext(ctx).
		Where(model.Collection{UserID: userID, Name: name}).
		Attrs(model.Collection{CollectionType: model.CollectionDocument, Loc: loc}).
		FirstOrCreate(&c).Error
	if err != nil {
		return nil, fmt.Errorf("get or create collection failed: %w", err)
	}
	return &c, nil
}

// UpdateSchemaAnalysis is a single-column update; no other field is touched.
func (r *CollectionRepository) UpdateSchemaAnalysis(ctx context.Context, id uint, analysis string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Collection{}).
		Where("id = ?", id).
		Update("schema_analysis", analysis).Error
	if err != nil {
		return fmt.Errorf("update schema analysis failed: %w", err)
	}
	return nil
}

// OwnsLoc reports whether one of the user's document collections is stored
// at loc.
func (r *CollectionRepository) OwnsLoc(ctx context.Context, userID uint, loc string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Collection{}).
		Where("user_id = ? AND loc = ? AND collection_type = ?", userID, loc, model.CollectionDocument).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count collection locs failed: %w", err)
	}
	return n > 0, nil
}

func (r *CollectionRepository) ListLocs(ctx context.Context) ([]string, error) {
	var locs []string
	if err := r.db.WithContext(ctx).Model(&model.Collection{}).Where("loc <> ''").Distinct().Pluck("loc", &locs).Error; err != nil {
		return nil, fmt.Errorf("list collection locs failed: %w", err)
	}
	return locs, nil
}
