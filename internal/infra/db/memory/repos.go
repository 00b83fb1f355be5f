package memory

import (
	"context"
	"sort"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/detections"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
	"github.com/YasodaLAE/transformer/internal/domain/training"
)

type AnnotationRepository struct{ db *DB }

func NewAnnotationRepository(db *DB) *AnnotationRepository { return &AnnotationRepository{db: db} }

var _ annotations.Repository = (*AnnotationRepository)(nil)

func (r *AnnotationRepository) FindActiveByInspection(_ context.Context, inspectionID int64) (out []*annotations.Annotation, _ error) {
	r.db.read(func(st *state) { out = st.annotationsOf(inspectionID, true) })
	return out, nil
}

func (r *AnnotationRepository) FindByInspection(_ context.Context, inspectionID int64) (out []*annotations.Annotation, _ error) {
	r.db.read(func(st *state) { out = st.annotationsOf(inspectionID, false) })
	return out, nil
}

func (r *AnnotationRepository) InspectionsWithHumanCorrections(_ context.Context) ([]int64, error) {
	seen := map[int64]struct{}{}
	r.db.read(func(st *state) {
		for _, a := range st.annotations {
			if a.Status.IsHumanCorrected() {
				seen[a.InspectionID] = struct{}{}
			}
		}
	})
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *AnnotationRepository) Logs(_ context.Context, inspectionID int64) (out []*annotations.LogEntry, _ error) {
	r.db.read(func(st *state) { out = sortedLogs(st.logs, inspectionID) })
	return out, nil
}

func (r *AnnotationRepository) WithinTx(ctx context.Context, fn func(tx annotations.Tx) error) error {
	return r.db.tx(func(st *state) error { return fn(&txRepo{st: st}) })
}

type DetectionRepository struct{ db *DB }

func NewDetectionRepository(db *DB) *DetectionRepository { return &DetectionRepository{db: db} }

var _ detections.Repository = (*DetectionRepository)(nil)

func (r *DetectionRepository) FindResult(ctx context.Context, inspectionID int64) (res *detections.Result, err error) {
	r.db.read(func(st *state) { res, err = (&txRepo{st: st}).FindResult(ctx, inspectionID) })
	return res, err
}

func (r *DetectionRepository) WithinTx(ctx context.Context, fn func(tx detections.Tx) error) error {
	return r.db.tx(func(st *state) error { return fn(&txRepo{st: st}) })
}

type InspectionRepository struct{ db *DB }

func NewInspectionRepository(db *DB) *InspectionRepository { return &InspectionRepository{db: db} }

var _ inspections.Repository = (*InspectionRepository)(nil)

func (r *InspectionRepository) Get(_ context.Context, id int64) (out *inspections.Inspection, err error) {
	r.db.read(func(st *state) {
		if i, ok := st.inspections[id]; ok {
			cp := *i
			out = &cp
		}
	})
	if out == nil {
		return nil, apperr.NotFound("memory.Inspection", "inspection %d", id)
	}
	return out, nil
}

func (r *InspectionRepository) MaintenanceImage(_ context.Context, inspectionID int64) (out *inspections.ThermalImage, err error) {
	var n int
	r.db.read(func(st *state) {
		for _, img := range st.images {
			if img.InspectionID == inspectionID && img.ImageType == inspections.ImageMaintenance {
				n++
				cp := *img
				out = &cp
			}
		}
	})
	switch {
	case n == 0:
		return nil, apperr.NotFound("memory.MaintenanceImage", "no maintenance image for inspection %d", inspectionID)
	case n > 1:
		return nil, apperr.Conflict("memory.MaintenanceImage", "inspection %d has more than one maintenance image", inspectionID)
	}
	return out, nil
}

type ModelRepository struct{ db *DB }

func NewModelRepository(db *DB) *ModelRepository { return &ModelRepository{db: db} }

var _ training.ModelStore = (*ModelRepository)(nil)

func (r *ModelRepository) CurrentModel(_ context.Context) (name string, _ error) {
	r.db.read(func(st *state) { name = st.model })
	return name, nil
}

func (r *ModelRepository) SetCurrentModel(_ context.Context, name string, at time.Time) error {
	return r.db.tx(func(st *state) error {
		st.model, st.modelAt = name, at
		return nil
	})
}
