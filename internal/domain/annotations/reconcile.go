package annotations

import (
	"sort"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/apperr"
)

// Op is the storage operation a change needs.
type Op int

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpSoftDelete
)

// Change is one planned mutation. Before is nil for inserts.
type Change struct {
	Op     Op
	Action LogAction
	Before *Annotation
	After  *Annotation
}

// Plan is the full diff between the stored active set and a submitted final state.
type Plan struct {
	InspectionID int64
	Actor        string
	Changes      []Change
}

// Summary lists affected ids per action. Insert ids are only known after
// the plan has been applied.
type Summary struct {
	Added     []ID `json:"added"`
	Edited    []ID `json:"edited"`
	Validated []ID `json:"validated"`
	Deleted   []ID `json:"deleted"`
}

func (p *Plan) Summary() Summary {
	s := Summary{Added: []ID{}, Edited: []ID{}, Validated: []ID{}, Deleted: []ID{}}
	for _, c := range p.Changes {
		switch c.Action {
		case ActionAdded:
			s.Added = append(s.Added, c.After.ID)
		case ActionEdited:
			s.Edited = append(s.Edited, c.After.ID)
		case ActionValidated:
			s.Validated = append(s.Validated, c.After.ID)
		case ActionDeleted:
			s.Deleted = append(s.Deleted, c.After.ID)
		}
	}
	return s
}

// Reconcile diffs items against the active rows of one inspection.
//
// Active rows missing from items are soft-deleted and attributed to the
// first item's submitter (fallbackActor when there is none). Items with an
// id must match an active row, otherwise the whole plan is rejected with
// Conflict. Items without an id become inserts.
func Reconcile(inspectionID int64, current []*Annotation, items []Input, fallbackActor string, now time.Time) (*Plan, error) {
	const op = "annotations.Reconcile"

	active := make(map[ID]*Annotation, len(current))
	for _, a := range current {
		active[a.ID] = a
	}

	incoming := make(map[ID]struct{}, len(items))
	for i, in := range items {
		if err := in.Box().Validate(); err != nil {
			return nil, apperr.InvalidArgument(op, "item %d: %v", i, err)
		}
		if in.ID == nil {
			continue
		}
		if _, dup := incoming[*in.ID]; dup {
			return nil, apperr.Conflict(op, "annotation %d submitted more than once", *in.ID)
		}
		if _, ok := active[*in.ID]; !ok {
			return nil, apperr.Conflict(op, "annotation %d is not active on inspection %d", *in.ID, inspectionID)
		}
		incoming[*in.ID] = struct{}{}
	}

	actor := fallbackActor
	if len(items) > 0 && items[0].UserID != "" {
		actor = items[0].UserID
	}
	if actor == "" {
		actor = "unknown"
	}

	plan := &Plan{InspectionID: inspectionID, Actor: actor}

	var gone []*Annotation
	for _, a := range current {
		if _, ok := incoming[a.ID]; !ok {
			gone = append(gone, a)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].ID < gone[j].ID })
	for _, a := range gone {
		after := a.Clone()
		after.MarkDeleted(actor, now)
		plan.Changes = append(plan.Changes, Change{Op: OpSoftDelete, Action: ActionDeleted, Before: a.Clone(), After: after})
	}

	for _, in := range items {
		user := in.UserID
		if user == "" {
			user = actor
		}
		if in.ID != nil {
			plan.Changes = append(plan.Changes, updateChange(active[*in.ID], in, user, now))
			continue
		}
		plan.Changes = append(plan.Changes, insertChange(inspectionID, in, user, now))
	}
	return plan, nil
}

func updateChange(cur *Annotation, in Input, user string, now time.Time) Change {
	edited := cur.Box.Differs(in.Box()) ||
		cur.FaultType != in.FaultType ||
		!equalComments(cur.Comments, in.Comments)

	after := cur.Clone()
	after.Box = in.Box()
	after.Comments = in.Comments
	after.FaultType = in.FaultType
	after.UserID = user
	after.UpdatedAt = now

	action := ActionValidated
	if edited {
		after.Status = StatusUserEdited
		action = ActionEdited
	}
	return Change{Op: OpUpdate, Action: action, Before: cur.Clone(), After: after}
}

func insertChange(inspectionID int64, in Input, user string, now time.Time) Change {
	a := &Annotation{
		InspectionID: inspectionID,
		FaultType:    in.FaultType,
		Box:          in.Box(),
		Comments:     in.Comments,
		UserID:       user,
		UpdatedAt:    now,
	}
	if !in.IsAIOrigin() {
		a.Source = SourceUser
		a.Status = StatusUserAdded
		return Change{Op: OpInsert, Action: ActionAdded, After: a}
	}

	a.Source = SourceAI
	a.Confidence = in.AIConfidence
	a.SeverityScore = in.AISeverityScore
	if in.editedFromOriginal() {
		a.Status = StatusUserEdited
		return Change{Op: OpInsert, Action: ActionEdited, After: a}
	}
	a.Status = in.detectorStatus()
	return Change{Op: OpInsert, Action: ActionValidated, After: a}
}
