package vectorstore

import "context"

// Record is one stored chunk.
type Record struct {
	ID         string
	DocumentID uint
	Text       string
	Embedding  []float32
}

// Scored is a record with its cosine similarity to a query.
type Scored struct {
	Record
	Score float64
}

// Store keeps chunks grouped by location; a thread or document collection
// owns exactly one location.
type Store interface {
	Upsert(ctx context.Context, loc string, records []Record) error
	// Search returns records scoring at least cutoff, best first, at most topK.
	Search(ctx context.Context, loc string, query []float32, cutoff float64, topK int) ([]Scored, error)
	Exists(ctx context.Context, loc string) (bool, error)
	DeleteLoc(ctx context.Context, loc string) error
	DeleteDocument(ctx context.Context, loc string, documentID uint) error
	ListLocs(ctx context.Context) ([]string, error)
}
