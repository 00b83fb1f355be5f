package annotations

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/YasodaLAE/transformer/internal/application"
	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/detections"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
	"github.com/YasodaLAE/transformer/internal/logger"
)

// Service implements the annotation use-cases. Saves for one inspection are
// serialised through Locker.
type Service struct {
	Repo        annotations.Repository
	Inspections inspections.Repository
	Results     detections.Repository
	Locker      application.Locker
	Clock       application.Clock
	Metrics     application.Recorder
	Log         *zap.Logger
}

func (s *Service) log() *zap.Logger { return logger.OrNop(s.Log).Named("annotations") }

func (s *Service) metrics() application.Recorder {
	if s.Metrics == nil {
		return application.NopRecorder{}
	}
	return s.Metrics
}

func (s *Service) clock() application.Clock {
	if s.Clock == nil {
		return application.SystemClock{}
	}
	return s.Clock
}

// ListActive returns the current annotations of an inspection.
func (s *Service) ListActive(ctx context.Context, inspectionID int64) ([]*annotations.Annotation, error) {
	if _, err := s.Inspections.Get(ctx, inspectionID); err != nil {
		return nil, err
	}
	out, err := s.Repo.FindActiveByInspection(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*annotations.Annotation{}
	}
	return out, nil
}

// SaveCommand carries one client-submitted final state.
type SaveCommand struct {
	InspectionID int64
	Items        []annotations.Input
	// Annotator is the authenticated caller, used as the actor when no
	// item names a submitter.
	Annotator string
}

// SaveAnnotations reconciles the submitted final state against the active
// rows in one transaction.
func (s *Service) SaveAnnotations(ctx context.Context, cmd SaveCommand) (summary annotations.Summary, err error) {
	start := time.Now()
	defer func() {
		s.metrics().RecordOperation("save_annotations", application.Outcome(err))
		s.metrics().RecordDuration("save_annotations", time.Since(start).Seconds())
	}()

	if _, err := s.Inspections.Get(ctx, cmd.InspectionID); err != nil {
		return summary, err
	}

	unlock, err := s.Locker.Lock(ctx, application.InspectionLockKey(cmd.InspectionID))
	if err != nil {
		return summary, apperr.Wrap(apperr.ErrConflict, "annotations.Save", err)
	}
	defer unlock()

	now := s.clock().Now()
	var plan *annotations.Plan
	err = s.Repo.WithinTx(ctx, func(tx annotations.Tx) error {
		current, err := tx.FindActiveByInspection(ctx, cmd.InspectionID)
		if err != nil {
			return err
		}
		plan, err = annotations.Reconcile(cmd.InspectionID, current, cmd.Items, cmd.Annotator, now)
		if err != nil {
			return err
		}
		return annotations.Apply(ctx, tx, plan, now)
	})
	if err != nil {
		if !errors.Is(err, apperr.ErrConflict) && !errors.Is(err, apperr.ErrInvalidArgument) {
			s.log().Error("save annotations failed", zap.Int64("inspection_id", cmd.InspectionID), zap.Error(err))
		}
		return summary, err
	}

	summary = plan.Summary()
	s.log().Info("annotations saved",
		zap.Int64("inspection_id", cmd.InspectionID),
		zap.String("actor", plan.Actor),
		zap.Int("added", len(summary.Added)),
		zap.Int("edited", len(summary.Edited)),
		zap.Int("validated", len(summary.Validated)),
		zap.Int("deleted", len(summary.Deleted)),
	)
	return summary, nil
}

// Logs returns the audit trail of an inspection, oldest first.
func (s *Service) Logs(ctx context.Context, inspectionID int64) ([]*annotations.LogEntry, error) {
	if _, err := s.Inspections.Get(ctx, inspectionID); err != nil {
		return nil, err
	}
	out, err := s.Repo.Logs(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*annotations.LogEntry{}
	}
	return out, nil
}
