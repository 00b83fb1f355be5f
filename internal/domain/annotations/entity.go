package annotations

import (
	"fmt"
	"math"
	"time"
)

// ID of a persisted annotation. Zero means not yet persisted.
type ID int64

// Status is the current disposition of a box. Detector classifications
// (FAULTY, POTENTIALLY_FAULTY, ...) and the USER_* edit labels share it.
// StatusUserDeleted is the deleted variant; there is no separate flag.
type Status string

const (
	StatusFaulty            Status = "FAULTY"
	StatusPotentiallyFaulty Status = "POTENTIALLY_FAULTY"
	StatusUserAdded         Status = "USER_ADDED"
	StatusUserEdited        Status = "USER_EDITED"
	StatusUserDeleted       Status = "USER_DELETED"
)

// DefaultDetectorStatus is used when the detector omits a classification.
const DefaultDetectorStatus = StatusFaulty

func (s Status) IsDeleted() bool { return s == StatusUserDeleted }

// IsHumanCorrected reports whether the box carries human training signal.
func (s Status) IsHumanCorrected() bool {
	return s == StatusUserAdded || s == StatusUserEdited
}

func (s Status) isUserLabel() bool {
	return s == StatusUserAdded || s == StatusUserEdited || s == StatusUserDeleted
}

// Source records where a box originated. Set once on creation.
type Source string

const (
	SourceAI   Source = "AI"
	SourceUser Source = "USER"
)

// AIUserID is stamped on rows seeded by the detector.
const AIUserID = "AI"

// Epsilon is the noise floor, in image pixels, below which a geometry
// difference is not an edit.
const Epsilon = 0.001

// Box is a top-left anchored rectangle in image pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Differs reports whether any axis moved by more than Epsilon.
func (b Box) Differs(o Box) bool {
	return math.Abs(b.X-o.X) > Epsilon ||
		math.Abs(b.Y-o.Y) > Epsilon ||
		math.Abs(b.Width-o.Width) > Epsilon ||
		math.Abs(b.Height-o.Height) > Epsilon
}

func (b Box) Validate() error {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("geometry must be finite")
		}
	}
	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("width and height must be non-negative")
	}
	return nil
}

// Annotation is one bounding box on one inspection's maintenance image.
type Annotation struct {
	ID            ID       `json:"id"`
	InspectionID  int64    `json:"inspectionId"`
	Status        Status   `json:"currentStatus"`
	Source        Source   `json:"originalSource"`
	Confidence    *float64 `json:"aiConfidence"`
	SeverityScore *int     `json:"aiSeverityScore"`
	FaultType     string   `json:"faultType"`
	Box
	Comments  *string   `json:"comments"`
	UserID    string    `json:"userId"`
	UpdatedAt time.Time `json:"timestamp"`
}

// IsDeleted is derived from the status.
func (a *Annotation) IsDeleted() bool { return a.Status.IsDeleted() }

// MarkDeleted moves the box to the deleted disposition.
func (a *Annotation) MarkDeleted(actor string, at time.Time) {
	a.Status = StatusUserDeleted
	a.UserID = actor
	a.UpdatedAt = at
}

func (a *Annotation) Clone() *Annotation {
	c := *a
	if a.Confidence != nil {
		v := *a.Confidence
		c.Confidence = &v
	}
	if a.SeverityScore != nil {
		v := *a.SeverityScore
		c.SeverityScore = &v
	}
	if a.Comments != nil {
		v := *a.Comments
		c.Comments = &v
	}
	return &c
}

// LogAction is the per-box action inferred by reconciliation.
type LogAction string

const (
	ActionAdded     LogAction = "ADDED"
	ActionEdited    LogAction = "EDITED"
	ActionValidated LogAction = "VALIDATED"
	ActionDeleted   LogAction = "DELETED"
	ActionSeeded    LogAction = "AI_SEEDED"
)

// LogEntry is one audit row. Before is nil for inserts.
type LogEntry struct {
	ID           int64       `json:"id"`
	InspectionID int64       `json:"inspectionId"`
	AnnotationID ID          `json:"annotationId"`
	Action       LogAction   `json:"action"`
	UserID       string      `json:"userId"`
	Before       *Annotation `json:"before,omitempty"`
	After        *Annotation `json:"after,omitempty"`
	LoggedAt     time.Time   `json:"loggedAt"`
}

func equalComments(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
