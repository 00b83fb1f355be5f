package detections

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
	"github.com/YasodaLAE/transformer/internal/domain/process"
	"github.com/YasodaLAE/transformer/internal/infra/db/memory"
	"github.com/YasodaLAE/transformer/internal/infra/lock"
	"github.com/YasodaLAE/transformer/internal/infra/storage"
)

var now = time.Date(2024, 8, 2, 10, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticModel string

func (m staticModel) CurrentPath() string { return string(m) }

// fakeSpawner plays the detector.
type fakeSpawner struct {
	calls  []process.Request
	result process.Result
	err    error
	// onSpawn runs before the result is returned; ctxErr records ctx.Err() after it.
	onSpawn func()
	ctxErr  error
}

func (f *fakeSpawner) SpawnAndCapture(ctx context.Context, req process.Request) (process.Result, error) {
	f.calls = append(f.calls, req)
	if f.onSpawn != nil {
		f.onSpawn()
	}
	f.ctxErr = ctx.Err()
	return f.result, f.err
}

const twoAnomalies = `{
  "overall_status": "Faulty",
  "anomalies": [
    {"type": "FAULTY", "confidence": 0.93, "severity_score": 3.6, "location": {"x_min": 10, "y_min": 20, "x_max": 60, "y_max": 80}},
    {"confidence": 0.41, "severity_score": 1, "location": {"x_min": 100, "y_min": 100, "x_max": 110, "y_max": 130}}
  ],
  "output_image_name": "annotated_1.jpg",
  "image_dimensions": {"original_width": 640, "original_height": 480}
}`

type fixture struct {
	db      *memory.DB
	files   *storage.FileSystem
	spawner *fakeSpawner
	svc     *Service
	id      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewFileSystem(root, "baseline-images")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "baseline-images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "baseline-images", "base.jpg"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "maint.jpg"), []byte("m"), 0o644))

	db := memory.NewDB()
	id := db.AddInspection("INSP-7")
	db.AddImage(id, "maint.jpg", inspections.ImageMaintenance)

	sp := &fakeSpawner{result: process.Result{Stdout: []byte(twoAnomalies)}}
	return &fixture{
		db:      db,
		files:   files,
		spawner: sp,
		id:      id,
		svc: &Service{
			Inspections:      memory.NewInspectionRepository(db),
			Repo:             memory.NewDetectionRepository(db),
			Files:            files,
			Spawner:          sp,
			Locker:           lock.NewMemoryLocker(),
			Clock:            fixedClock{now},
			Command:          []string{"python", "detector.py"},
			DefaultThreshold: 20,
		},
	}
}

func (f *fixture) addUserBox(t *testing.T) {
	t.Helper()
	repo := memory.NewAnnotationRepository(f.db)
	require.NoError(t, repo.WithinTx(context.Background(), func(tx annotations.Tx) error {
		return tx.Insert(context.Background(), &annotations.Annotation{
			InspectionID: f.id, Status: annotations.StatusUserAdded, Source: annotations.SourceUser,
			Box: annotations.Box{X: 1, Y: 1, Width: 4, Height: 4}, UserID: "alice", UpdatedAt: now.Add(-time.Hour),
		})
	}))
}

func (f *fixture) all(t *testing.T) []*annotations.Annotation {
	t.Helper()
	rows, err := memory.NewAnnotationRepository(f.db).FindByInspection(context.Background(), f.id)
	require.NoError(t, err)
	return rows
}

func TestRunDetection_PurgesHumanCorrections(t *testing.T) {
	f := newFixture(t)
	f.addUserBox(t)

	res, err := f.svc.RunDetection(context.Background(), RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "Faulty", res.OverallStatus)
	assert.Equal(t, 640, *res.OriginalWidth)
	assert.Equal(t, 480, *res.OriginalHeight)
	assert.True(t, now.Equal(res.DetectedAt))

	rows := f.all(t)
	require.Len(t, rows, 2)
	for _, a := range rows {
		assert.Equal(t, annotations.SourceAI, a.Source, "no user rows survive a detection run")
		assert.Equal(t, annotations.AIUserID, a.UserID)
		assert.False(t, a.IsDeleted())
	}
	assert.Equal(t, annotations.StatusFaulty, rows[0].Status)
	assert.Equal(t, annotations.Box{X: 10, Y: 20, Width: 50, Height: 60}, rows[0].Box)
	assert.Equal(t, 4, *rows[0].SeverityScore)
	assert.Equal(t, annotations.DefaultDetectorStatus, rows[1].Status)

	logs, err := memory.NewAnnotationRepository(f.db).Logs(context.Background(), f.id)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, annotations.ActionSeeded, logs[0].Action)
}

func TestRunDetection_SubprocessContract(t *testing.T) {
	f := newFixture(t)
	f.svc.Models = staticModel("/models/ft_model_1.pt")
	threshold := 12.5

	_, err := f.svc.RunDetection(context.Background(), RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg", Threshold: &threshold})
	require.NoError(t, err)
	require.Len(t, f.spawner.calls, 1)

	argv := f.spawner.calls[0].Argv
	require.Len(t, argv, 6)
	assert.Equal(t, []string{"python", "detector.py"}, argv[:2])
	assert.Equal(t, filepath.ToSlash(filepath.Join(f.files.Root(), "maint.jpg")), argv[2])
	assert.Equal(t, filepath.ToSlash(filepath.Join(f.files.Root(), "baseline-images", "base.jpg")), argv[3])
	assert.Equal(t, filepath.ToSlash(f.files.Root()), argv[4])
	assert.Equal(t, "12.5", argv[5])
	assert.True(t, filepath.IsAbs(filepath.FromSlash(argv[2])))
	assert.Equal(t, []string{ModelEnv + "=/models/ft_model_1.pt"}, f.spawner.calls[0].Env)

	_, err = f.svc.RunDetection(context.Background(), RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "20", f.spawner.calls[1].Argv[5])
}

func TestRunDetection_CallerCancelDoesNotAbortRun(t *testing.T) {
	f := newFixture(t)
	f.svc.Timeout = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.spawner.onSpawn = cancel

	res, err := f.svc.RunDetection(ctx, RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.NoError(t, f.spawner.ctxErr, "detector context must outlive the caller")
	assert.Equal(t, "Faulty", res.OverallStatus)
	assert.Len(t, f.all(t), 2)
}

func TestRunDetection_FailsFastBeforeSpawn(t *testing.T) {
	negative := -1.0
	tests := []struct {
		name string
		cmd  func(id int64) RunCommand
		kind error
	}{
		{"missing inspection", func(id int64) RunCommand { return RunCommand{InspectionID: id + 10, BaselineFileName: "base.jpg"} }, apperr.ErrNotFound},
		{"empty baseline", func(id int64) RunCommand { return RunCommand{InspectionID: id, BaselineFileName: "  "} }, apperr.ErrInvalidArgument},
		{"traversal", func(id int64) RunCommand { return RunCommand{InspectionID: id, BaselineFileName: "../maint.jpg"} }, apperr.ErrInvalidArgument},
		{"missing baseline file", func(id int64) RunCommand { return RunCommand{InspectionID: id, BaselineFileName: "other.jpg"} }, apperr.ErrInvalidArgument},
		{"negative threshold", func(id int64) RunCommand {
			return RunCommand{InspectionID: id, BaselineFileName: "base.jpg", Threshold: &negative}
		}, apperr.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.RunDetection(context.Background(), tt.cmd(f.id))
			assert.ErrorIs(t, err, tt.kind)
			assert.Empty(t, f.spawner.calls)
		})
	}
}

func TestRunDetection_MissingMaintenanceImage(t *testing.T) {
	f := newFixture(t)
	bare := f.db.AddInspection("INSP-8")

	_, err := f.svc.RunDetection(context.Background(), RunCommand{InspectionID: bare, BaselineFileName: "base.jpg"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, os.Remove(filepath.Join(f.files.Root(), "maint.jpg")))
	_, err = f.svc.RunDetection(context.Background(), RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.spawner.calls)
}

func TestRunDetection_AmbiguousMaintenanceImage(t *testing.T) {
	f := newFixture(t)
	f.db.AddImage(f.id, "maint-2.jpg", inspections.ImageMaintenance)

	_, err := f.svc.RunDetection(context.Background(), RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Empty(t, f.spawner.calls)
}

func TestRunDetection_FailuresLeaveStateUntouched(t *testing.T) {
	tests := []struct {
		name   string
		result process.Result
		err    error
	}{
		{"non-zero exit", process.Result{ExitCode: 1, Stdout: []byte(twoAnomalies), Stderr: []byte("Traceback")}, nil},
		{"not an object", process.Result{Stdout: []byte(`[1,2]`)}, nil},
		{"no anomalies array", process.Result{Stdout: []byte(`{"error":"model missing"}`)}, nil},
		{"could not start", process.Result{}, errors.New("exec: not found")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addUserBox(t)
			f.spawner.result, f.spawner.err = tt.result, tt.err

			_, err := f.svc.RunDetection(context.Background(), RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
			assert.ErrorIs(t, err, apperr.ErrDetectionFailed)

			rows := f.all(t)
			require.Len(t, rows, 1)
			assert.Equal(t, annotations.SourceUser, rows[0].Source)
			_, err = f.svc.GetResult(context.Background(), f.id)
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}

func TestRunDetection_RerunUpsertsAndCleansOrphanImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := filepath.Join(f.files.Root(), "annotated_1.jpg")
	require.NoError(t, os.WriteFile(old, []byte("img"), 0o644))

	first, err := f.svc.RunDetection(ctx, RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	require.NoError(t, err)

	// same name: file stays
	_, err = f.svc.RunDetection(ctx, RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	require.NoError(t, err)
	assert.FileExists(t, old)

	f.spawner.result.Stdout = []byte(`{"overall_status":"Normal","anomalies":[],"output_image_name":"annotated_2.jpg"}`)
	second, err := f.svc.RunDetection(ctx, RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.NoFileExists(t, old)
	assert.Nil(t, second.OriginalWidth)

	got, err := f.svc.GetResult(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, "Normal", got.OverallStatus)
	assert.JSONEq(t, `[]`, string(got.DetectionJSON))
	assert.Empty(t, f.all(t))
}

func TestAnnotatedImagePath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AnnotatedImagePath(ctx, f.id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.RunDetection(ctx, RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	require.NoError(t, err)
	_, err = f.svc.AnnotatedImagePath(ctx, f.id)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "detector did not write the file")

	require.NoError(t, os.WriteFile(filepath.Join(f.files.Root(), "annotated_1.jpg"), []byte("img"), 0o644))
	p, err := f.svc.AnnotatedImagePath(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.files.Root(), "annotated_1.jpg"), p)
}

func TestDeleteInspectionArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := filepath.Join(f.files.Root(), "annotated_1.jpg")
	require.NoError(t, os.WriteFile(img, []byte("img"), 0o644))

	_, err := f.svc.RunDetection(ctx, RunCommand{InspectionID: f.id, BaselineFileName: "base.jpg"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteInspectionArtifacts(ctx, f.id))
	assert.Empty(t, f.all(t))
	_, err = f.svc.GetResult(ctx, f.id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	logs, err := memory.NewAnnotationRepository(f.db).Logs(ctx, f.id)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.NoFileExists(t, img)

	// nothing left to delete is fine
	assert.NoError(t, f.svc.DeleteInspectionArtifacts(ctx, f.id))
}
