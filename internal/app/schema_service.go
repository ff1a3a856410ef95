package app

import (
	"context"
	"errors"
	"fmt"

	"ragchat/internal/model"
	"ragchat/internal/platform/logger"
	"ragchat/internal/repository"
	"ragchat/internal/structured"
)

var ErrCollectionNotFound = errors.New("collection not found")

// SourceOpener binds the data source of a structured collection.
type SourceOpener func(ctx context.Context, c *model.Collection, opts structured.Options) (structured.Source, error)

// SchemaAnalyzer writes the natural-language description of a source.
type SchemaAnalyzer interface {
	Analyze(ctx context.Context, src structured.Source, extraKnowledge string) (string, error)
}

// SchemaService regenerates schema_analysis on demand. A failed run leaves
// the stored analysis untouched.
type SchemaService struct {
	collections *repository.CollectionRepository
	analyzer    SchemaAnalyzer
	open        SourceOpener
	maxRows     int
	log         *logger.Logger
}

func NewSchemaService(collections *repository.CollectionRepository, analyzer SchemaAnalyzer, open SourceOpener, maxRows int, log *logger.Logger) *SchemaService {
	if open == nil {
		open = structured.Open
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SchemaService{collections: collections, analyzer: analyzer, open: open, maxRows: maxRows, log: log}
}

func (s *SchemaService) Reindex(ctx context.Context, userID, collectionID uint) (string, error) {
	c, err := s.collections.GetByID(ctx, collectionID)
	if err != nil {
		return "", err
	}
	if c == nil || c.UserID != userID {
		return "", ErrCollectionNotFound
	}
	if !c.IsStructured() {
		return "", fmt.Errorf("%w: collection %d has no structured source", ErrInvalidInput, c.ID)
	}

	src, err := s.open(ctx, c, structured.Options{MaxRows: s.maxRows, Log: s.log})
	if err != nil {
		s.log.Warn("schema reindex could not open source", "collection_id", c.ID, "err", err)
		return "", err
	}
	defer src.Close()

	analysis, err := s.analyzer.Analyze(ctx, src, c.ExtraKnowledge)
	if err != nil {
		s.log.Warn("schema analysis failed, keeping previous analysis", "collection_id", c.ID, "err", err)
		return "", fmt.Errorf("schema analysis failed: %w", err)
	}
	if err := s.collections.UpdateSchemaAnalysis(ctx, c.ID, analysis); err != nil {
		return "", err
	}
	s.log.Info("schema analysis updated", "collection_id", c.ID, "bytes", len(analysis))
	return analysis, nil
}
