package models

import (
	"time"
)

// Companion is a persona a user chats with, stored in the companions table
type Companion struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName pins the table shared with the web client
func (Companion) TableName() string {
	return "companions"
}

// CreateImageRequest is the body of POST /create-image
type CreateImageRequest struct {
	Name        string `json:"name"`
	Description string `json:"description" binding:"required"`
}

// CreateImageResponse carries the generated image as a data URI
type CreateImageResponse struct {
	Message string `json:"message"`
	Base64  string `json:"base64"`
}

// CharacterResponse is returned by both character generation routes
type CharacterResponse struct {
	Message     string `json:"message"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
