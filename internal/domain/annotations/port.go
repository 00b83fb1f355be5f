package annotations

import (
	"context"
	"time"
)

// Repository port for the annotation store.
type Repository interface {
	FindActiveByInspection(ctx context.Context, inspectionID int64) ([]*Annotation, error)
	// FindByInspection includes soft-deleted rows.
	FindByInspection(ctx context.Context, inspectionID int64) ([]*Annotation, error)
	// InspectionsWithHumanCorrections returns distinct inspection ids that have
	// at least one active USER_ADDED or USER_EDITED row, ascending.
	InspectionsWithHumanCorrections(ctx context.Context) ([]int64, error)
	Logs(ctx context.Context, inspectionID int64) ([]*LogEntry, error)

	// WithinTx runs fn in one transaction. A non-nil error from fn rolls back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side, only reachable inside a transaction.
// Insert and Update are separate on purpose: callers decide the branch.
type Tx interface {
	FindActiveByInspection(ctx context.Context, inspectionID int64) ([]*Annotation, error)
	// Insert persists a new row and assigns a.ID.
	Insert(ctx context.Context, a *Annotation) error
	// Update overwrites a persisted row. Unknown ids are NotFound.
	Update(ctx context.Context, a *Annotation) error
	SoftDelete(ctx context.Context, id ID, userID string, at time.Time) error
	// DeleteByInspection physically removes every row of the inspection.
	DeleteByInspection(ctx context.Context, inspectionID int64) (int64, error)
	AppendLog(ctx context.Context, e *LogEntry) error
}

// Apply executes a reconciliation plan inside tx and appends one log entry
// per change. Insert ids are written back into the plan.
func Apply(ctx context.Context, tx Tx, p *Plan, now time.Time) error {
	for _, c := range p.Changes {
		var err error
		switch c.Op {
		case OpInsert:
			err = tx.Insert(ctx, c.After)
		case OpUpdate:
			err = tx.Update(ctx, c.After)
		case OpSoftDelete:
			err = tx.SoftDelete(ctx, c.After.ID, c.After.UserID, c.After.UpdatedAt)
		}
		if err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, &LogEntry{
			InspectionID: p.InspectionID,
			AnnotationID: c.After.ID,
			Action:       c.Action,
			UserID:       c.After.UserID,
			Before:       c.Before,
			After:        c.After,
			LoggedAt:     now,
		}); err != nil {
			return err
		}
	}
	return nil
}
