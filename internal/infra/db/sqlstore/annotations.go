package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
)

const annotationCols = `id, inspection_id, annotation_type, original_source, ai_confidence, ai_severity_score,
 fault_type, x, y, width, height, comments, user_id, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (*annotations.Annotation, error) {
	var (
		a        annotations.Annotation
		conf     sql.NullFloat64
		severity sql.NullInt64
		comments sql.NullString
	)
	if err := row.Scan(&a.ID, &a.InspectionID, &a.Status, &a.Source, &conf, &severity,
		&a.FaultType, &a.X, &a.Y, &a.Width, &a.Height, &comments, &a.UserID, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if conf.Valid {
		a.Confidence = &conf.Float64
	}
	if severity.Valid {
		v := int(severity.Int64)
		a.SeverityScore = &v
	}
	if comments.Valid {
		a.Comments = &comments.String
	}
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func (s *Store) queryAnnotations(ctx context.Context, q querier, op string, activeOnly bool, inspectionID int64) ([]*annotations.Annotation, error) {
	query := `SELECT ` + annotationCols + ` FROM annotations WHERE inspection_id=?`
	args := []any{inspectionID}
	if activeOnly {
		query += ` AND is_deleted=?`
		args = append(args, false)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var out []*annotations.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, apperr.Storage(op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

// AnnotationRepository implements annotations.Repository.
type AnnotationRepository struct{ s *Store }

func NewAnnotationRepository(s *Store) *AnnotationRepository { return &AnnotationRepository{s: s} }

var _ annotations.Repository = (*AnnotationRepository)(nil)

func (r *AnnotationRepository) FindActiveByInspection(ctx context.Context, inspectionID int64) ([]*annotations.Annotation, error) {
	return r.s.queryAnnotations(ctx, r.s.db, "annotations.FindActive", true, inspectionID)
}

func (r *AnnotationRepository) FindByInspection(ctx context.Context, inspectionID int64) ([]*annotations.Annotation, error) {
	return r.s.queryAnnotations(ctx, r.s.db, "annotations.FindByInspection", false, inspectionID)
}

func (r *AnnotationRepository) InspectionsWithHumanCorrections(ctx context.Context) ([]int64, error) {
	const op = "annotations.InspectionsWithHumanCorrections"
	const q = `
SELECT DISTINCT inspection_id FROM annotations
WHERE is_deleted=? AND annotation_type IN (?, ?)
ORDER BY inspection_id`
	rows, err := r.s.db.QueryContext(ctx, r.s.rebind(q), false,
		string(annotations.StatusUserAdded), string(annotations.StatusUserEdited))
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return ids, nil
}

func (r *AnnotationRepository) Logs(ctx context.Context, inspectionID int64) ([]*annotations.LogEntry, error) {
	const op = "annotations.Logs"
	const q = `
SELECT id, inspection_id, annotation_id, action, user_id, before_json, after_json, logged_at
FROM annotation_logs WHERE inspection_id=? ORDER BY id`
	rows, err := r.s.db.QueryContext(ctx, r.s.rebind(q), inspectionID)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var out []*annotations.LogEntry
	for rows.Next() {
		var (
			e             annotations.LogEntry
			before, after sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.InspectionID, &e.AnnotationID, &e.Action, &e.UserID, &before, &after, &e.LoggedAt); err != nil {
			return nil, apperr.Storage(op, err)
		}
		if e.Before, err = decodeSnapshot(before); err != nil {
			return nil, apperr.Storage(op, err)
		}
		if e.After, err = decodeSnapshot(after); err != nil {
			return nil, apperr.Storage(op, err)
		}
		e.LoggedAt = e.LoggedAt.UTC()
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

func (r *AnnotationRepository) WithinTx(ctx context.Context, fn func(tx annotations.Tx) error) error {
	return r.s.withinTx(ctx, "annotations.WithinTx", func(t *txRepo) error { return fn(t) })
}

func encodeSnapshot(a *annotations.Annotation) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeSnapshot(ns sql.NullString) (*annotations.Annotation, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var a annotations.Annotation
	if err := json.Unmarshal([]byte(ns.String), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
