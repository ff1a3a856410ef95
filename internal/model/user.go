package model

import "time"

// User is maintained by the identity system; this service only reads it.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:64;not null;uniqueIndex" json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
