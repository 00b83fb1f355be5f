package annotations

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YasodaLAE/transformer/internal/application"
	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/detections"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
	"github.com/YasodaLAE/transformer/internal/infra/db/memory"
	"github.com/YasodaLAE/transformer/internal/infra/lock"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// countingLocker records the keys taken.
type countingLocker struct {
	inner *lock.MemoryLocker
	mu    sync.Mutex
	keys  []string
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return l.inner.Lock(ctx, key)
}

type fixture struct {
	db     *memory.DB
	svc    *Service
	locker *countingLocker
	id     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.NewDB()
	locker := &countingLocker{inner: lock.NewMemoryLocker()}
	return &fixture{
		db:     db,
		locker: locker,
		id:     db.AddInspection("INSP-100"),
		svc: &Service{
			Repo:        memory.NewAnnotationRepository(db),
			Inspections: memory.NewInspectionRepository(db),
			Results:     memory.NewDetectionRepository(db),
			Locker:      locker,
			Clock:       fixedClock{now},
		},
	}
}

// seedAI stores one detector box the way a detection run does.
func (f *fixture) seedAI(t *testing.T, status annotations.Status) *annotations.Annotation {
	t.Helper()
	a := &annotations.Annotation{
		InspectionID:  f.id,
		Status:        status,
		Source:        annotations.SourceAI,
		Confidence:    ptr(0.9),
		SeverityScore: ptr(4),
		FaultType:     string(status),
		Box:           annotations.Box{X: 10, Y: 10, Width: 50, Height: 50},
		UserID:        annotations.AIUserID,
		UpdatedAt:     now.Add(-time.Hour),
	}
	require.NoError(t, memory.NewAnnotationRepository(f.db).WithinTx(context.Background(), func(tx annotations.Tx) error {
		return tx.Insert(context.Background(), a)
	}))
	return a
}

func TestListActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ListActive(ctx, f.id+1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	out, err := f.svc.ListActive(ctx, f.id)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	f.seedAI(t, annotations.StatusFaulty)
	out, err = f.svc.ListActive(ctx, f.id)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestSaveAnnotations_CommentOnlyEditScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ai := f.seedAI(t, annotations.StatusPotentiallyFaulty)

	summary, err := f.svc.SaveAnnotations(ctx, SaveCommand{
		InspectionID: f.id,
		Items: []annotations.Input{{
			ID: ptr(ai.ID), X: 10, Y: 10, Width: 50, Height: 50,
			FaultType: ai.FaultType, Comments: ptr("needs a second look"), UserID: "alice",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []annotations.ID{ai.ID}, summary.Edited)
	assert.Equal(t, []string{application.InspectionLockKey(f.id)}, f.locker.keys)

	active, err := f.svc.ListActive(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, annotations.StatusUserEdited, active[0].Status)
	assert.False(t, active[0].IsDeleted())
	assert.Equal(t, "alice", active[0].UserID)
	assert.True(t, now.Equal(active[0].UpdatedAt))
	assert.Equal(t, annotations.SourceAI, active[0].Source)
}

func TestSaveAnnotations_IdempotentResave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAI(t, annotations.StatusFaulty)

	_, err := f.svc.SaveAnnotations(ctx, SaveCommand{InspectionID: f.id, Items: []annotations.Input{
		{X: 1, Y: 1, Width: 5, Height: 5, FaultType: "Faulty", UserID: "bob"},
	}})
	require.NoError(t, err)

	first, err := f.svc.ListActive(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, first, 1)

	items := make([]annotations.Input, 0, len(first))
	for _, a := range first {
		items = append(items, annotations.Input{
			ID: ptr(a.ID), X: a.X + 0.0005, Y: a.Y, Width: a.Width, Height: a.Height,
			FaultType: a.FaultType, Comments: a.Comments, UserID: "bob",
		})
	}
	summary, err := f.svc.SaveAnnotations(ctx, SaveCommand{InspectionID: f.id, Items: items})
	require.NoError(t, err)
	assert.Empty(t, summary.Edited)
	assert.Empty(t, summary.Deleted)
	assert.Len(t, summary.Validated, 1)

	second, err := f.svc.ListActive(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Status, second[0].Status)
}

func TestSaveAnnotations_EmptySubmissionSoftDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedAI(t, annotations.StatusFaulty)
	b := f.seedAI(t, annotations.StatusPotentiallyFaulty)

	summary, err := f.svc.SaveAnnotations(ctx, SaveCommand{InspectionID: f.id, Annotator: "carol"})
	require.NoError(t, err)
	assert.Equal(t, []annotations.ID{a.ID, b.ID}, summary.Deleted)

	all, err := f.svc.Repo.FindByInspection(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, row := range all {
		assert.True(t, row.IsDeleted())
		assert.Equal(t, annotations.StatusUserDeleted, row.Status)
		assert.Equal(t, "carol", row.UserID)
	}
}

func TestSaveAnnotations_ConflictRollsBackBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedAI(t, annotations.StatusFaulty)

	_, err := f.svc.SaveAnnotations(ctx, SaveCommand{InspectionID: f.id, Items: []annotations.Input{
		{X: 1, Y: 1, Width: 2, Height: 2, UserID: "dave"},
		{ID: ptr(annotations.ID(999)), X: 1, Y: 1, Width: 2, Height: 2, UserID: "dave"},
	}})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	active, err := f.svc.ListActive(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, annotations.StatusFaulty, active[0].Status)

	logs, err := f.svc.Logs(ctx, f.id)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSaveAnnotations_UnknownInspection(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SaveAnnotations(context.Background(), SaveCommand{InspectionID: f.id + 5})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.locker.keys)
}

// Concurrent saves for one inspection are serialised by the per-inspection
// lock, a deliberate change from unguarded saves: each submission replaces
// the whole active set, so exactly one box survives.
func TestSaveAnnotations_ConcurrentSavesSerialise(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.SaveAnnotations(ctx, SaveCommand{InspectionID: f.id, Items: []annotations.Input{
				{X: float64(i), Y: 0, Width: 1, Height: 1, UserID: "u"},
			}})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active, err := f.svc.ListActive(ctx, f.id)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := f.svc.Repo.FindByInspection(ctx, f.id)
	require.NoError(t, err)
	assert.Len(t, all, 8)
}

func TestLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAI(t, annotations.StatusFaulty)

	_, err := f.svc.SaveAnnotations(ctx, SaveCommand{InspectionID: f.id, Items: []annotations.Input{
		{X: 3, Y: 3, Width: 3, Height: 3, UserID: "erin"},
	}})
	require.NoError(t, err)

	logs, err := f.svc.Logs(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, annotations.ActionDeleted, logs[0].Action)
	assert.Equal(t, annotations.ActionAdded, logs[1].Action)
	assert.Equal(t, "erin", logs[1].UserID)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedAI(t, annotations.StatusFaulty)

	recs, err := f.svc.Export(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, NoImage, recs[0].ImageFileName)
	assert.Nil(t, recs[0].OverallStatus)

	f.db.AddImage(f.id, "maint_100.jpg", inspections.ImageMaintenance)
	require.NoError(t, f.svc.Results.WithinTx(ctx, func(tx detections.Tx) error {
		return tx.UpsertResult(ctx, &detections.Result{InspectionID: f.id, OverallStatus: "Faulty",
			OriginalWidth: ptr(640), OriginalHeight: ptr(480)})
	}))
	_, err = f.svc.SaveAnnotations(ctx, SaveCommand{InspectionID: f.id, Annotator: "frank"})
	require.NoError(t, err)

	recs, err = f.svc.Export(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, "INSP-100", r.InspectionNo)
	assert.Equal(t, "maint_100.jpg", r.ImageFileName)
	assert.Equal(t, a.ID, r.AnnotationID)
	assert.True(t, r.IsDeleted)
	assert.Equal(t, annotations.StatusUserDeleted, r.FinalStatus)
	assert.Equal(t, "frank", r.AnnotatorID)
	assert.Equal(t, "Faulty", *r.OverallStatus)
	assert.Equal(t, 640, *r.OriginalWidth)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(b, &fields))
	for _, k := range []string{"inspectionId", "annotationId", "finalStatus", "isDeleted", "annotatorId",
		"lastUpdated", "originalSource", "aiConfidence", "aiSeverityScore", "originalWidth", "originalHeight"} {
		assert.Contains(t, fields, k)
	}

	assert.Equal(t, "feedback_log_inspection_7.json", ExportFileName(7))
}
