// Package store keeps finished generations so documents can be fetched again by ID or
// by content fingerprint.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("record not found")

// Record is one finished generation.
type Record struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	Prompt        string    `gorm:"type:text" json:"prompt"`
	Title         string    `gorm:"size:255" json:"title"`
	Filename      string    `gorm:"size:255" json:"filename"`
	Content       string    `gorm:"type:text" json:"content"`
	SHA256        string    `gorm:"column:sha256;size:64;index" json:"sha256"`
	ModelJSON     string    `gorm:"column:model_json;type:text" json:"model_json"`
	VerifiedCount int       `json:"verified_count"`
	TotalCount    int       `json:"total_count"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// TableName pins the table name.
func (Record) TableName() string {
	return "generations"
}

// Store persists records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	// FindBySHA256 returns the earliest record with the given fingerprint.
	FindBySHA256(ctx context.Context, sum string) (Record, error)
	// List returns the newest records first.
	List(ctx context.Context, limit int) ([]Record, error)
}
