package detections

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YasodaLAE/transformer/internal/application"
	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/detections"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
	"github.com/YasodaLAE/transformer/internal/domain/process"
	"github.com/YasodaLAE/transformer/internal/logger"
)

// ModelEnv carries the production model path to the detector.
const ModelEnv = "DETECTOR_MODEL_PATH"

// Files resolves stored image names to absolute paths.
type Files interface {
	Root() string
	Path(name string) (string, error)
	BaselinePath(name string) (string, error)
	Delete(name string) error
}

// ModelPointer is the process-wide production model reference.
type ModelPointer interface {
	CurrentPath() string
}

// Service runs the external detector and seeds AI annotations from it.
type Service struct {
	Inspections inspections.Repository
	Repo        detections.Repository
	Files       Files
	Spawner     process.Spawner
	Models      ModelPointer
	Locker      application.Locker
	Clock       application.Clock
	Metrics     application.Recorder
	Log         *zap.Logger

	// Command is the detector program plus leading args.
	Command          []string
	DefaultThreshold float64
	// Timeout bounds one detector run. Zero means no bound.
	Timeout time.Duration
}

func (s *Service) log() *zap.Logger { return logger.OrNop(s.Log).Named("detections") }

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

// RunCommand requests one detection run. A nil Threshold uses the default.
type RunCommand struct {
	InspectionID     int64
	BaselineFileName string
	Threshold        *float64
}

// RunDetection spawns the detector for an inspection and replaces every
// annotation of that inspection with the detector's boxes. Human
// corrections made before the run are discarded.
func (s *Service) RunDetection(ctx context.Context, cmd RunCommand) (result *detections.Result, err error) {
	const op = "detections.Run"
	start := time.Now()
	defer func() {
		s.metrics().RecordOperation("detection", application.Outcome(err))
		s.metrics().RecordDuration("detection", time.Since(start).Seconds())
	}()

	threshold, err := s.threshold(cmd.Threshold)
	if err != nil {
		return nil, err
	}
	baselinePath, err := s.baselinePath(cmd.BaselineFileName)
	if err != nil {
		return nil, err
	}
	if _, err := s.Inspections.Get(ctx, cmd.InspectionID); err != nil {
		return nil, err
	}
	img, err := s.Inspections.MaintenanceImage(ctx, cmd.InspectionID)
	if err != nil {
		return nil, err
	}
	maintPath, err := s.Files.Path(img.FileName)
	if err != nil {
		return nil, apperr.NotFound(op, "maintenance image %q: %v", img.FileName, err)
	}
	if !isFile(maintPath) {
		return nil, apperr.NotFound(op, "maintenance image file %q is missing", img.FileName)
	}
	outDir, err := filepath.Abs(s.Files.Root())
	if err != nil {
		return nil, apperr.Storage(op, err)
	}

	unlock, err := s.Locker.Lock(ctx, application.InspectionLockKey(cmd.InspectionID))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrConflict, op, err)
	}
	defer unlock()

	argv := append(append([]string(nil), s.Command...),
		filepath.ToSlash(maintPath),
		filepath.ToSlash(baselinePath),
		filepath.ToSlash(outDir),
		strconv.FormatFloat(threshold, 'f', -1, 64),
	)
	req := process.Request{Argv: argv}
	if s.Models != nil {
		if model := s.Models.CurrentPath(); model != "" {
			req.Env = []string{ModelEnv + "=" + model}
		}
	}

	// Once spawned the detector runs to completion and its result is persisted
	// even if the caller goes away. Only Timeout stops it.
	ctx = context.WithoutCancel(ctx)
	runCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	log := s.log().With(zap.Int64("inspection_id", cmd.InspectionID))
	log.Info("running detector", zap.String("baseline", cmd.BaselineFileName), zap.Float64("threshold", threshold))

	res, err := s.Spawner.SpawnAndCapture(runCtx, req)
	if err != nil {
		log.Error("detector did not run", zap.Error(err))
		return nil, apperr.Wrap(apperr.ErrDetectionFailed, op, err)
	}
	if res.ExitCode != 0 {
		log.Error("detector exited non-zero",
			zap.Int("exit_code", res.ExitCode),
			zap.ByteString("stderr", res.Stderr),
			zap.Duration("duration", res.Duration),
		)
		return nil, apperr.DetectionFailed(op, "detector exited with code %d", res.ExitCode)
	}
	out, err := detections.ParseOutput(res.Stdout)
	if err != nil {
		log.Error("detector output unparsable", zap.Error(err), zap.ByteString("stderr", res.Stderr))
		return nil, apperr.Wrap(apperr.ErrDetectionFailed, op, err)
	}

	now := s.clock().Now()
	result = &detections.Result{
		InspectionID:    cmd.InspectionID,
		OverallStatus:   out.OverallStatus,
		DetectionJSON:   out.RawAnomalies,
		OutputImageName: out.OutputImageName,
		DetectedAt:      now,
	}
	if out.Dimensions != nil {
		w, h := out.Dimensions.OriginalWidth, out.Dimensions.OriginalHeight
		result.OriginalWidth, result.OriginalHeight = &w, &h
	}

	var previousImage string
	var purged int64
	err = s.Repo.WithinTx(ctx, func(tx detections.Tx) error {
		prev, err := tx.FindResult(ctx, cmd.InspectionID)
		switch {
		case err == nil:
			previousImage = prev.OutputImageName
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}
		if err := tx.UpsertResult(ctx, result); err != nil {
			return err
		}
		if purged, err = tx.DeleteByInspection(ctx, cmd.InspectionID); err != nil {
			return err
		}
		for _, anomaly := range out.Anomalies {
			a := anomaly.Annotation(cmd.InspectionID, now)
			if err := tx.Insert(ctx, a); err != nil {
				return err
			}
			if err := tx.AppendLog(ctx, &annotations.LogEntry{
				InspectionID: cmd.InspectionID,
				AnnotationID: a.ID,
				Action:       annotations.ActionSeeded,
				UserID:       annotations.AIUserID,
				After:        a,
				LoggedAt:     now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error("persisting detection failed", zap.Error(err))
		return nil, err
	}

	if previousImage != "" && previousImage != result.OutputImageName {
		s.deleteImage(log, previousImage)
	}

	log.Info("detection stored",
		zap.String("overall_status", result.OverallStatus),
		zap.Int("anomalies", len(out.Anomalies)),
		zap.Int64("purged_annotations", purged),
		zap.Duration("duration", res.Duration),
	)
	return result, nil
}

func (s *Service) threshold(v *float64) (float64, error) {
	if v == nil {
		return s.DefaultThreshold, nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return 0, apperr.InvalidArgument("detections.Run", "threshold must be a finite non-negative number")
	}
	return *v, nil
}

func (s *Service) baselinePath(name string) (string, error) {
	const op = "detections.Run"
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.InvalidArgument(op, "baseline file name is required")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", apperr.InvalidArgument(op, "baseline file name %q must be a plain file name", name)
	}
	p, err := s.Files.BaselinePath(name)
	if err != nil {
		return "", apperr.InvalidArgument(op, "%v", err)
	}
	if !isFile(p) {
		return "", apperr.InvalidArgument(op, "baseline image %q not found", name)
	}
	return p, nil
}

// GetResult returns the stored detection result of an inspection.
func (s *Service) GetResult(ctx context.Context, inspectionID int64) (*detections.Result, error) {
	return s.Repo.FindResult(ctx, inspectionID)
}

// AnnotatedImagePath resolves the rendered output image of the last run.
func (s *Service) AnnotatedImagePath(ctx context.Context, inspectionID int64) (string, error) {
	const op = "detections.AnnotatedImage"
	r, err := s.Repo.FindResult(ctx, inspectionID)
	if err != nil {
		return "", err
	}
	if r.OutputImageName == "" {
		return "", apperr.NotFound(op, "inspection %d has no annotated image", inspectionID)
	}
	p, err := s.Files.Path(r.OutputImageName)
	if err != nil || !isFile(p) {
		return "", apperr.NotFound(op, "annotated image %q is missing", r.OutputImageName)
	}
	return p, nil
}

// DeleteInspectionArtifacts removes annotations, audit rows and the
// detection result of an inspection, then the rendered image.
func (s *Service) DeleteInspectionArtifacts(ctx context.Context, inspectionID int64) (err error) {
	defer func() { s.metrics().RecordOperation("purge", application.Outcome(err)) }()

	unlock, err := s.Locker.Lock(ctx, application.InspectionLockKey(inspectionID))
	if err != nil {
		return apperr.Wrap(apperr.ErrConflict, "detections.Purge", err)
	}
	defer unlock()

	var image string
	var removed int64
	err = s.Repo.WithinTx(ctx, func(tx detections.Tx) error {
		r, err := tx.FindResult(ctx, inspectionID)
		switch {
		case err == nil:
			image = r.OutputImageName
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}
		if removed, err = tx.DeleteByInspection(ctx, inspectionID); err != nil {
			return err
		}
		if err := tx.DeleteLogs(ctx, inspectionID); err != nil {
			return err
		}
		return tx.DeleteResult(ctx, inspectionID)
	})
	if err != nil {
		return err
	}

	log := s.log().With(zap.Int64("inspection_id", inspectionID))
	if image != "" {
		s.deleteImage(log, image)
	}
	log.Info("inspection artifacts deleted", zap.Int64("annotations", removed))
	return nil
}

// deleteImage is best-effort; failures are logged only.
func (s *Service) deleteImage(log *zap.Logger, name string) {
	if err := s.Files.Delete(name); err != nil {
		log.Warn("could not delete annotated image", zap.String("file", name), zap.Error(err))
		return
	}
	log.Debug("annotated image deleted", zap.String("file", name))
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
