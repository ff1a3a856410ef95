package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ragchat/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create stores the document and links it to the given collections.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document, collections ...*model.Collection) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("create document failed: %w", err)
		}
		for _, c := range collections {
			if c == nil {
				continue
			}
			if err := tx.Model(c).Association("Documents").Append(doc); err != nil {
				return fmt.Errorf("link document to collection failed: %w", err)
			}
		}
		return nil
	})
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query document failed: %w", err)
	}
	return &doc, nil
}

// GetByUserAndSHA256 finds the user's document with the given content hash.
func (r *DocumentRepository) GetByUserAndSHA256(ctx context.Context, userID uint, sum string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("user_id = ? AND sha256 = ?", userID, sum).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query document by hash failed: %w", err)
	}
	return &doc, nil
}

// Link adds an existing document to collections. Existing memberships are
// left as they are.
func (r *DocumentRepository) Link(ctx context.Context, doc *model.Document, collections ...*model.Collection) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range collections {
			if c == nil {
				continue
			}
			if err := tx.Model(c).Association("Documents").Append(doc); err != nil {
				return fmt.Errorf("link document to collection failed: %w", err)
			}
		}
		return nil
	})
}

// NamesByIDs maps document ids to display names; unknown ids are absent.
func (r *DocumentRepository) NamesByIDs(ctx context.Context, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var docs []model.Document
	if err := r.db.WithContext(ctx).Select("id", "name").Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("query document names failed: %w", err)
	}
	for _, d := range docs {
		names[d.ID] = d.Name
	}
	return names, nil
}
