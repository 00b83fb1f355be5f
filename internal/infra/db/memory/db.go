// Package memory is a transactional in-process store used for local runs
// (database.driver: memory) and use-case tests.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/detections"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
)

// DB holds all tables. Transactions hold mu for their whole duration and
// work on a copy that replaces the live state on commit.
type DB struct {
	mu sync.Mutex
	st *state
}

type state struct {
	inspections map[int64]*inspections.Inspection
	images      map[int64]*inspections.ThermalImage
	annotations map[annotations.ID]*annotations.Annotation
	logs        []*annotations.LogEntry
	results     map[int64]*detections.Result
	model       string
	modelAt     time.Time

	nextInspection int64
	nextImage      int64
	nextAnnotation annotations.ID
	nextLog        int64
	nextResult     int64
}

func NewDB() *DB {
	return &DB{st: &state{
		inspections: map[int64]*inspections.Inspection{},
		images:      map[int64]*inspections.ThermalImage{},
		annotations: map[annotations.ID]*annotations.Annotation{},
		results:     map[int64]*detections.Result{},
	}}
}

func (s *state) clone() *state {
	c := *s
	c.inspections = make(map[int64]*inspections.Inspection, len(s.inspections))
	for k, v := range s.inspections {
		cp := *v
		c.inspections[k] = &cp
	}
	c.images = make(map[int64]*inspections.ThermalImage, len(s.images))
	for k, v := range s.images {
		cp := *v
		c.images[k] = &cp
	}
	c.annotations = make(map[annotations.ID]*annotations.Annotation, len(s.annotations))
	for k, v := range s.annotations {
		c.annotations[k] = v.Clone()
	}
	c.logs = append([]*annotations.LogEntry(nil), s.logs...)
	c.results = make(map[int64]*detections.Result, len(s.results))
	for k, v := range s.results {
		cp := *v
		c.results[k] = &cp
	}
	return &c
}

// tx runs fn against a copy of the state and commits it when fn succeeds.
func (db *DB) tx(fn func(st *state) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	work := db.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	db.st = work
	return nil
}

func (db *DB) read(fn func(st *state)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn(db.st)
}

// AddInspection seeds an inspection row and returns its id.
func (db *DB) AddInspection(inspectionNo string) int64 {
	var id int64
	_ = db.tx(func(st *state) error {
		st.nextInspection++
		id = st.nextInspection
		st.inspections[id] = &inspections.Inspection{ID: id, InspectionNo: inspectionNo, CreatedAt: time.Now().UTC()}
		return nil
	})
	return id
}

// AddImage seeds a thermal image row for an inspection.
func (db *DB) AddImage(inspectionID int64, fileName string, kind inspections.ImageType) int64 {
	var id int64
	_ = db.tx(func(st *state) error {
		st.nextImage++
		id = st.nextImage
		st.images[id] = &inspections.ThermalImage{
			ID: id, InspectionID: inspectionID, FileName: fileName, ImageType: kind, UploadedAt: time.Now().UTC(),
		}
		return nil
	})
	return id
}

func (s *state) annotationsOf(inspectionID int64, activeOnly bool) []*annotations.Annotation {
	var out []*annotations.Annotation
	for _, a := range s.annotations {
		if a.InspectionID != inspectionID || (activeOnly && a.IsDeleted()) {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
