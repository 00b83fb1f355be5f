package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/YasodaLAE/transformer/internal/application"
	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
	"github.com/YasodaLAE/transformer/internal/domain/process"
	"github.com/YasodaLAE/transformer/internal/domain/training"
	"github.com/YasodaLAE/transformer/internal/logger"
)

// DefaultTimeout bounds a trainer run when Timeout is unset.
const DefaultTimeout = 30 * time.Minute

// Dataset is the on-disk training set.
type Dataset interface {
	Reset() error
	AddSample(inspectionID int64, src string, labels []training.Label) (string, error)
	WriteDescriptor() (string, error)
}

// Files resolves stored image names.
type Files interface {
	Path(name string) (string, error)
}

// ArtifactStore receives a copy of every promoted model.
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// Service builds a dataset from human-corrected inspections and runs the
// trainer. Only one run may be active per process.
type Service struct {
	Annotations annotations.Repository
	Inspections inspections.Repository
	Files       Files
	Dataset     Dataset
	ImageSize   func(path string) (width, height int, err error)
	Spawner     process.Spawner
	Registry    *Registry
	Artifacts   ArtifactStore
	Clock       application.Clock
	Metrics     application.Recorder
	Log         *zap.Logger

	// Command is the trainer program plus leading args.
	Command      []string
	ModelDir     string
	InitialModel string
	Timeout      time.Duration

	once    sync.Once
	running *semaphore.Weighted
}

// FineTuneResult describes a promoted model.
type FineTuneResult struct {
	ModelName   string        `json:"modelName"`
	RunID       string        `json:"runId"`
	Inspections []int64       `json:"inspections"`
	Skipped     []int64       `json:"skipped"`
	Boxes       int           `json:"boxes"`
	Duration    time.Duration `json:"durationNs"`
}

func (s *Service) log() *zap.Logger { return logger.OrNop(s.Log).Named("training") }

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

func (s *Service) sem() *semaphore.Weighted {
	s.once.Do(func() { s.running = semaphore.NewWeighted(1) })
	return s.running
}

// GenerateDatasetAndFineTune rebuilds the dataset, trains a new model and
// promotes it to production.
func (s *Service) GenerateDatasetAndFineTune(ctx context.Context) (res FineTuneResult, err error) {
	const op = "training.FineTune"
	if !s.sem().TryAcquire(1) {
		return res, apperr.Conflict(op, "a fine-tuning run is already in progress")
	}
	defer s.sem().Release(1)

	start := time.Now()
	defer func() {
		s.metrics().RecordOperation("fine_tune", application.Outcome(err))
		s.metrics().RecordDuration("fine_tune", time.Since(start).Seconds())
	}()

	res.RunID = uuid.NewString()
	log := s.log().With(zap.String("run_id", res.RunID))

	ids, err := s.Annotations.InspectionsWithHumanCorrections(ctx)
	if err != nil {
		return res, err
	}
	if len(ids) == 0 {
		return res, apperr.InsufficientData(op, "no inspection has human-corrected annotations")
	}
	log.Info("building dataset", zap.Int("candidates", len(ids)))

	if err := s.Dataset.Reset(); err != nil {
		return res, apperr.Storage(op, err)
	}
	for _, id := range ids {
		boxes, added, err := s.addInspection(ctx, log, id)
		if err != nil {
			return res, err
		}
		if !added {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		res.Inspections = append(res.Inspections, id)
		res.Boxes += boxes
	}
	if len(res.Inspections) == 0 {
		return res, apperr.InsufficientData(op, "none of %d corrected inspections has a usable maintenance image", len(ids))
	}

	dataYAML, err := s.Dataset.WriteDescriptor()
	if err != nil {
		return res, apperr.Storage(op, err)
	}

	modelDir, err := filepath.Abs(s.ModelDir)
	if err != nil {
		return res, apperr.Storage(op, err)
	}
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return res, apperr.Storage(op, err)
	}
	now := s.clock().Now()
	res.ModelName = fmt.Sprintf("ft_model_%d_%s.pt", now.UnixMilli(), strings.SplitN(res.RunID, "-", 2)[0])
	outPath := filepath.Join(modelDir, res.ModelName)

	// A caller going away neither aborts the trainer nor the promotion.
	ctx = context.WithoutCancel(ctx)
	if err := s.train(ctx, log, dataYAML, s.baseModel(), outPath); err != nil {
		return res, err
	}
	if !isFile(outPath) {
		return res, apperr.TrainingFailed(op, "trainer exited cleanly but wrote no model at %s", outPath)
	}

	if s.Artifacts != nil {
		if url, err := s.Artifacts.Upload(ctx, outPath, "models/"+res.ModelName); err != nil {
			log.Warn("model upload failed", zap.String("model", res.ModelName), zap.Error(err))
		} else {
			log.Info("model uploaded", zap.String("url", url))
		}
	}

	if err := s.Registry.Set(ctx, res.ModelName, s.clock().Now()); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)
	log.Info("model promoted",
		zap.String("model", res.ModelName),
		zap.Int("inspections", len(res.Inspections)),
		zap.Int("boxes", res.Boxes),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// addInspection adds one inspection's image and labels. A missing or
// ambiguous image row, or a missing file, skips the inspection.
func (s *Service) addInspection(ctx context.Context, log *zap.Logger, id int64) (int, bool, error) {
	const op = "training.Dataset"
	log = log.With(zap.Int64("inspection_id", id))

	img, err := s.Inspections.MaintenanceImage(ctx, id)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		log.Warn("skipping inspection without maintenance image")
		return 0, false, nil
	case errors.Is(err, apperr.ErrConflict):
		log.Warn("skipping inspection with ambiguous maintenance image", zap.Error(err))
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	src, err := s.Files.Path(img.FileName)
	if err != nil || !isFile(src) {
		log.Warn("skipping inspection, image file missing", zap.String("file", img.FileName))
		return 0, false, nil
	}
	w, h, err := s.ImageSize(src)
	if err != nil {
		return 0, false, apperr.Storage(op, fmt.Errorf("read dimensions of %s: %w", img.FileName, err))
	}

	active, err := s.Annotations.FindActiveByInspection(ctx, id)
	if err != nil {
		return 0, false, err
	}
	labels := make([]training.Label, 0, len(active))
	for _, a := range active {
		labels = append(labels, training.Normalize(training.ClassFor(a.FaultType), a.Box, w, h))
	}
	if _, err := s.Dataset.AddSample(id, src, labels); err != nil {
		return 0, false, apperr.Storage(op, err)
	}
	return len(labels), true, nil
}

// baseModel is the production model when its artifact exists, else the
// configured initial model.
func (s *Service) baseModel() string {
	if s.Registry != nil {
		if p := s.Registry.CurrentPath(); p != "" && isFile(p) {
			return p
		}
	}
	if p, err := filepath.Abs(s.InitialModel); err == nil {
		return p
	}
	return s.InitialModel
}

func (s *Service) train(ctx context.Context, log *zap.Logger, dataYAML, baseModel, outPath string) error {
	const op = "training.Run"
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append(append([]string(nil), s.Command...),
		"--data_yaml", filepath.ToSlash(dataYAML),
		"--initial_model", filepath.ToSlash(baseModel),
		"--output_path", filepath.ToSlash(outPath),
	)
	stdout := process.NewLineWriter(func(line string) { log.Info("trainer", zap.String("line", line)) })
	stderr := process.NewLineWriter(func(line string) { log.Warn("trainer", zap.String("line", line)) })
	defer stdout.Close()
	defer stderr.Close()

	log.Info("starting trainer", zap.String("base_model", baseModel), zap.Duration("timeout", timeout))
	res, err := s.Spawner.SpawnAndCapture(ctx, process.Request{Argv: argv, Stdout: stdout, Stderr: stderr})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.TrainingFailed(op, "trainer timed out after %s", timeout)
		}
		return apperr.Wrap(apperr.ErrTrainingFailed, op, err)
	}
	if res.ExitCode != 0 {
		return apperr.TrainingFailed(op, "trainer exited with code %d", res.ExitCode)
	}
	return nil
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
