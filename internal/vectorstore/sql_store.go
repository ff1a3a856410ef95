package vectorstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ragchat/internal/model"
)

// SQLStore keeps embeddings as JSON next to the application data and ranks
// by exhaustive scan, which is fine for a few thousand chunks per location.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&model.Chunk{}); err != nil {
		return fmt.Errorf("migrate chunks failed: %w", err)
	}
	return nil
}

func (s *SQLStore) Upsert(ctx context.Context, loc string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]model.Chunk, len(records))
	for i, r := range records {
		rows[i] = model.Chunk{ID: r.ID, StoreLoc: loc, DocumentID: r.DocumentID, Text: r.Text}
		rows[i].SetEmbedding(r.Embedding)
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(&rows, 100).Error
	if err != nil {
		return fmt.Errorf("upsert chunks failed: %w", err)
	}
	return nil
}

func (s *SQLStore) fetch(ctx context.Context, loc string) ([]Record, error) {
	var rows []model.Chunk
	if err := s.db.WithContext(ctx).Where("store_loc = ?", loc).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch chunks failed: %w", err)
	}
	out := make([]Record, len(rows))
	for i := range rows {
		out[i] = Record{
			ID:         rows[i].ID,
			DocumentID: rows[i].DocumentID,
			Text:       rows[i].Text,
			Embedding:  rows[i].EmbeddingVector(),
		}
	}
	return out, nil
}

func (s *SQLStore) Search(ctx context.Context, loc string, query []float32, cutoff float64, topK int) ([]Scored, error) {
	records, err := s.fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	return Rank(query, records, cutoff, topK), nil
}

func (s *SQLStore) Exists(ctx context.Context, loc string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Chunk{}).Where("store_loc = ?", loc).Limit(1).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check store failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) DeleteLoc(ctx context.Context, loc string) error {
	if err := s.db.WithContext(ctx).Where("store_loc = ?", loc).Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete store failed: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteDocument(ctx context.Context, loc string, documentID uint) error {
	err := s.db.WithContext(ctx).
		Where("store_loc = ? AND document_id = ?", loc, documentID).
		Delete(&model.Chunk{}).Error
	if err != nil {
		return fmt.Errorf("delete document chunks failed: %w", err)
	}
	return nil
}

func (s *SQLStore) ListLocs(ctx context.Context) ([]string, error) {
	var locs []string
	if err := s.db.WithContext(ctx).Model(&model.Chunk{}).Distinct().Pluck("store_loc", &locs).Error; err != nil {
		return nil, fmt.Errorf("list store locs failed: %w", err)
	}
	return locs, nil
}
