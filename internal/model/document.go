package model

import "time"

// Document is a stored file. Content hashes are unique per owner.
type Document struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	UserID      uint         `gorm:"not null;uniqueIndex:idx_documents_user_sha256" json:"user_id"`
	Name        string       `gorm:"size:256;not null" json:"name"`
	StoragePath string       `gorm:"size:1024;not null" json:"storage_path"`
	SHA256      string       `gorm:"size:64;uniqueIndex:idx_documents_user_sha256" json:"sha256"`
	Public      bool         `gorm:"not null;default:false" json:"public"`
	Description string       `gorm:"type:text" json:"description,omitempty"`
	Collections []Collection `gorm:"many2many:collection_documents;" json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
}
