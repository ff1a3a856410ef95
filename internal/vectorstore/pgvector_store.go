package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type pgChunk struct {
	ID         string          `gorm:"primaryKey;size:64"`
	StoreLoc   string          `gorm:"primaryKey;size:512"`
	DocumentID uint            `gorm:"not null;index"`
	Text       string          `gorm:"type:text;not null"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
	CreatedAt  time.Time
}

func (pgChunk) TableName() string { return "vector_chunks" }

type pgScoredRow struct {
	ID         string
	DocumentID uint
	Text       string
	Score      float64
}

// PGStore keeps chunks in a postgres vector column and lets the database
// compute cosine distance. The cutoff predicate runs before LIMIT.
type PGStore struct {
	db *gorm.DB
}

func NewPGStore(db *gorm.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("enable pgvector failed: %w", err)
	}
	if err := db.AutoMigrate(&pgChunk{}); err != nil {
		return fmt.Errorf("migrate vector chunks failed: %w", err)
	}
	return nil
}

func (s *PGStore) Upsert(ctx context.Context, loc string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]pgChunk, len(records))
	for i, r := range records {
		rows[i] = pgChunk{
			ID:         r.ID,
			StoreLoc:   loc,
			DocumentID: r.DocumentID,
			Text:       r.Text,
			Embedding:  pgvector.NewVector(r.Embedding),
		}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(&rows, 100).Error
	if err != nil {
		return fmt.Errorf("upsert vector chunks failed: %w", err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, loc string, query []float32, cutoff float64, topK int) ([]Scored, error) {
	vec := pgvector.NewVector(query)
	q := s.db.WithContext(ctx).
		Model(&pgChunk{}).
		Select("id, document_id, text, 1 - (embedding <=> ?) AS score", vec).
		Where("store_loc = ?", loc).
		Where("1 - (embedding <=> ?) >= ?", vec, cutoff).
		Order("score DESC")
	if topK > 0 {
		q = q.Limit(topK)
	}
	var rows []pgScoredRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("search vector chunks failed: %w", err)
	}
	out := make([]Scored, len(rows))
	for i, r := range rows {
		out[i] = Scored{
			Record: Record{ID: r.ID, DocumentID: r.DocumentID, Text: r.Text},
			Score:  r.Score,
		}
	}
	return out, nil
}

func (s *PGStore) Exists(ctx context.Context, loc string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&pgChunk{}).Where("store_loc = ?", loc).Limit(1).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check vector store failed: %w", err)
	}
	return n > 0, nil
}

func (s *PGStore) DeleteLoc(ctx context.Context, loc string) error {
	if err := s.db.WithContext(ctx).Where("store_loc = ?", loc).Delete(&pgChunk{}).Error; err != nil {
		return fmt.Errorf("delete vector store failed: %w", err)
	}
	return nil
}

func (s *PGStore) DeleteDocument(ctx context.Context, loc string, documentID uint) error {
	err := s.db.WithContext(ctx).
		Where("store_loc = ? AND document_id = ?", loc, documentID).
		Delete(&pgChunk{}).Error
	if err != nil {
		return fmt.Errorf("delete vector document failed: %w", err)
	}
	return nil
}

func (s *PGStore) ListLocs(ctx context.Context) ([]string, error) {
	var locs []string
	if err := s.db.WithContext(ctx).Model(&pgChunk{}).Distinct().Pluck("store_loc", &locs).Error; err != nil {
		return nil, fmt.Errorf("list vector locs failed: %w", err)
	}
	return locs, nil
}
