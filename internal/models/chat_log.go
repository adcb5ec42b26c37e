package models

import (
	"time"
)

// ChatLog is one user/companion exchange. Rows are append-only.
type ChatLog struct {
	ID               int64     `json:"id,omitempty" gorm:"primaryKey;autoIncrement"`
	UserID           string    `json:"user_id" gorm:"index;not null"`
	CompanionID      string    `json:"companion_id" gorm:"index;not null"`
	UserMessage      string    `json:"user_message"`
	CompanionMessage string    `json:"companion_message"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName pins the table shared with the web client
func (ChatLog) TableName() string {
	return "chat_logs"
}
