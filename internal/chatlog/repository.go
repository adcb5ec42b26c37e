package chatlog

import (
	"context"

	"ai-companion-demo/backend/internal/models"

	"gorm.io/gorm"
)

// Record is one persisted exchange
type Record = models.ChatLog

// Repository stores chat log records. The log is append-only and never read
// back by this service.
type Repository interface {
	Insert(ctx context.Context, rec *Record) error
}

// GormRepository writes records to the chat_logs table
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GormRepository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Insert writes one record
func (r *GormRepository) Insert(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}
