package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ThreadID    uint           `gorm:"not null;index" json:"thread_id"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	Role        string         `gorm:"size:16;not null" json:"role"`
	Content     string         `gorm:"type:text" json:"content"`
	RAGResponse bool           `gorm:"not null;default:false" json:"rag_response"`
	SourceNodes datatypes.JSON `json:"source_nodes,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}
