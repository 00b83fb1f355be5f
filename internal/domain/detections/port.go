package detections

import (
	"context"

	"github.com/YasodaLAE/transformer/internal/domain/annotations"
)

// Repository port for detection results.
type Repository interface {
	// FindResult returns an apperr NotFound when the inspection has no result.
	FindResult(ctx context.Context, inspectionID int64) (*Result, error)
	// WithinTx runs fn in one transaction spanning results and annotations.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx extends the annotation write side with result writes.
type Tx interface {
	annotations.Tx
	FindResult(ctx context.Context, inspectionID int64) (*Result, error)
	// UpsertResult creates or replaces the inspection's result and sets r.ID.
	UpsertResult(ctx context.Context, r *Result) error
	DeleteResult(ctx context.Context, inspectionID int64) error
	DeleteLogs(ctx context.Context, inspectionID int64) error
}
