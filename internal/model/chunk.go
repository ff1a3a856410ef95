package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Chunk is a slice of a document stored under a vector-store location. The
// embedding is kept as a JSON array so any SQL backend can hold it.
type Chunk struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	StoreLoc   string    `gorm:"primaryKey;size:512" json:"store_loc"`
	DocumentID uint      `gorm:"not null;index" json:"document_id"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	Embedding  string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

func ChunkID(documentID uint, index int) string {
	return fmt.Sprintf("%d_%d", documentID, index)
}

// DocumentIDFromChunkID returns the prefix before the first "_".
func DocumentIDFromChunkID(chunkID string) (uint, bool) {
	prefix, _, _ := strings.Cut(chunkID, "_")
	id, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
