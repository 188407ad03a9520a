// Package storage journals raised alerts to a local SQLite database.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	AlertHistory() AlertHistoryRepository
}

// AlertRecord is one raised alert and the outcome of delivering it.
type AlertRecord struct {
	ID        string    `json:"id"`
	RuleName  string    `json:"rule_name"`
	Severity  string    `json:"severity"`
	Subject   string    `json:"subject"`
	Line      string    `json:"line"`
	FilePath  string    `json:"file_path"`
	Hostname  string    `json:"hostname"`
	Count     int       `json:"count,omitempty"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertHistoryRepository defines operations for alert history.
type AlertHistoryRepository interface {
	Create(ctx context.Context, record *AlertRecord) error
	GetByID(ctx context.Context, id string) (*AlertRecord, error)
	List(ctx context.Context, limit, offset int) ([]*AlertRecord, int64, error)
	ListByRule(ctx context.Context, ruleName string, limit, offset int) ([]*AlertRecord, int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
