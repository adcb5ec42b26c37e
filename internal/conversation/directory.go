package conversation

import (
	"context"
	"errors"

	"ai-companion-demo/backend/internal/models"

	"gorm.io/gorm"
)

// CompanionDirectory resolves companion profiles. A nil profile with a nil
// error means the companion is unknown.
type CompanionDirectory interface {
	Companion(ctx context.Context, id string) (*models.Companion, error)
}

// GormDirectory reads profiles from the companions table
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory creates a new GormDirectory
func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// Companion looks up one profile by id
func (d *GormDirectory) Companion(ctx context.Context, id string) (*models.Companion, error) {
	var companion models.Companion
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&companion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &companion, nil
}

// StaticDirectory serves profiles from memory, for tests and local runs without a database
type StaticDirectory map[string]models.Companion

// Companion looks up one profile by id
func (d StaticDirectory) Companion(_ context.Context, id string) (*models.Companion, error) {
	c, ok := d[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
