package history

import (
	"context"

	"snapengine/internal/domain"
)

// Repository is the capture history log. It records every capture attempt so
// operators can audit what was fetched, when and whether the cache served it.
// Implementations are swappable (BadgerDB today) without touching the capture
// workflow.
type Repository interface {
	// SaveRecord appends one capture record.
	SaveRecord(ctx context.Context, rec domain.CaptureRecord) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]domain.CaptureRecord, error)

	// Close gracefully shuts down the underlying store.
	Close() error
}
