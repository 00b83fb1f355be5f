package memory

import (
	"context"
	"sort"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/detections"
)

// txRepo is the write side bound to one transaction's working copy.
type txRepo struct {
	st *state
}

var _ detections.Tx = (*txRepo)(nil)

func (t *txRepo) FindActiveByInspection(_ context.Context, inspectionID int64) ([]*annotations.Annotation, error) {
	return t.st.annotationsOf(inspectionID, true), nil
}

func (t *txRepo) Insert(_ context.Context, a *annotations.Annotation) error {
	t.st.nextAnnotation++
	a.ID = t.st.nextAnnotation
	t.st.annotations[a.ID] = a.Clone()
	return nil
}

func (t *txRepo) Update(_ context.Context, a *annotations.Annotation) error {
	if _, ok := t.st.annotations[a.ID]; !ok {
		return apperr.NotFound("memory.Update", "annotation %d", a.ID)
	}
	t.st.annotations[a.ID] = a.Clone()
	return nil
}

func (t *txRepo) SoftDelete(_ context.Context, id annotations.ID, userID string, at time.Time) error {
	a, ok := t.st.annotations[id]
	if !ok {
		return apperr.NotFound("memory.SoftDelete", "annotation %d", id)
	}
	a.MarkDeleted(userID, at)
	return nil
}

func (t *txRepo) DeleteByInspection(_ context.Context, inspectionID int64) (int64, error) {
	var n int64
	for id, a := range t.st.annotations {
		if a.InspectionID == inspectionID {
			delete(t.st.annotations, id)
			n++
		}
	}
	return n, nil
}

func (t *txRepo) AppendLog(_ context.Context, e *annotations.LogEntry) error {
	t.st.nextLog++
	e.ID = t.st.nextLog
	cp := *e
	if e.Before != nil {
		cp.Before = e.Before.Clone()
	}
	if e.After != nil {
		cp.After = e.After.Clone()
	}
	t.st.logs = append(t.st.logs, &cp)
	return nil
}

func (t *txRepo) FindResult(_ context.Context, inspectionID int64) (*detections.Result, error) {
	r, ok := t.st.results[inspectionID]
	if !ok {
		return nil, apperr.NotFound("memory.FindResult", "no detection result for inspection %d", inspectionID)
	}
	cp := *r
	return &cp, nil
}

func (t *txRepo) UpsertResult(_ context.Context, r *detections.Result) error {
	if prev, ok := t.st.results[r.InspectionID]; ok {
		r.ID = prev.ID
	} else {
		t.st.nextResult++
		r.ID = t.st.nextResult
	}
	cp := *r
	t.st.results[r.InspectionID] = &cp
	return nil
}

func (t *txRepo) DeleteResult(_ context.Context, inspectionID int64) error {
	delete(t.st.results, inspectionID)
	return nil
}

func (t *txRepo) DeleteLogs(_ context.Context, inspectionID int64) error {
	kept := t.st.logs[:0:0]
	for _, e := range t.st.logs {
		if e.InspectionID != inspectionID {
			kept = append(kept, e)
		}
	}
	t.st.logs = kept
	return nil
}

func sortedLogs(logs []*annotations.LogEntry, inspectionID int64) []*annotations.LogEntry {
	var out []*annotations.LogEntry
	for _, e := range logs {
		if e.InspectionID == inspectionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
