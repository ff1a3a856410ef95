package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	CollectionDocument = "document"
	CollectionDatabase = "database"
	CollectionExcel    = "excel"
)

// AllDocsCollection is the name of the global collection every uploaded
// document is added to.
const AllDocsCollection = "ALL_DOCS_COLLECTION"

type Collection struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	UserID           uint           `gorm:"not null;index" json:"user_id"`
	Name             string         `gorm:"size:256;not null" json:"name"`
	CollectionType   string         `gorm:"size:16;not null;default:document" json:"collection_type"`
	Loc              string         `gorm:"size:512" json:"loc"`
	DBKind           string         `gorm:"size:32" json:"db_kind,omitempty"`
	ConnectionString string         `gorm:"type:text" json:"-"`
	FilePaths        datatypes.JSON `json:"file_paths,omitempty"`
	SchemaAnalysis   string         `gorm:"type:text" json:"schema_analysis,omitempty"`
	ExtraKnowledge   string         `gorm:"type:text" json:"extra_knowledge,omitempty"`
	Documents        []Document     `gorm:"many2many:collection_documents;" json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Paths decodes FilePaths; malformed JSON yields no paths.
func (c *Collection) Paths() []string {
	if len(c.FilePaths) == 0 {
		return nil
	}
	var paths []string
	if err := json.Unmarshal(c.FilePaths, &paths); err != nil {
		return nil
	}
	return paths
}

func (c *Collection) IsStructured() bool {
	return c.CollectionType == CollectionDatabase || c.CollectionType == CollectionExcel
}
