package model

import "time"

type Thread struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	UserID           uint        `gorm:"not null;index" json:"user_id"`
	Name             string      `gorm:"size:256;not null" json:"name"`
	Loc              string      `gorm:"size:512;index" json:"loc"`
	BaseCollectionID *uint       `gorm:"index" json:"base_collection_id,omitempty"`
	BaseCollection   *Collection `gorm:"foreignKey:BaseCollectionID" json:"base_collection,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}
