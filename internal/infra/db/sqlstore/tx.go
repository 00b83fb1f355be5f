package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/detections"
)

type txRepo struct {
	s *Store
	q querier
}

var _ detections.Tx = (*txRepo)(nil)

func (t *txRepo) FindActiveByInspection(ctx context.Context, inspectionID int64) ([]*annotations.Annotation, error) {
	return t.s.queryAnnotations(ctx, t.q, "tx.FindActive", true, inspectionID)
}

func (t *txRepo) Insert(ctx context.Context, a *annotations.Annotation) error {
	const q = `
INSERT INTO annotations
 (inspection_id, annotation_type, original_source, ai_confidence, ai_severity_score,
  fault_type, x, y, width, height, comments, user_id, updated_at, is_deleted)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	id, err := t.s.insert(ctx, t.q, q,
		a.InspectionID, string(a.Status), string(a.Source), nullFloat(a.Confidence), nullInt(a.SeverityScore),
		a.FaultType, a.X, a.Y, a.Width, a.Height, nullString(a.Comments), a.UserID, utc(a.UpdatedAt), a.IsDeleted())
	if err != nil {
		return apperr.Storage("tx.Insert", err)
	}
	a.ID = annotations.ID(id)
	return nil
}

func (t *txRepo) Update(ctx context.Context, a *annotations.Annotation) error {
	const q = `
UPDATE annotations SET
 annotation_type=?, fault_type=?, x=?, y=?, width=?, height=?, comments=?,
 user_id=?, updated_at=?, is_deleted=?
WHERE id=?`
	res, err := t.q.ExecContext(ctx, t.s.rebind(q),
		string(a.Status), a.FaultType, a.X, a.Y, a.Width, a.Height, nullString(a.Comments),
		a.UserID, utc(a.UpdatedAt), a.IsDeleted(), int64(a.ID))
	if err != nil {
		return apperr.Storage("tx.Update", err)
	}
	return t.requireRow(ctx, "tx.Update", res, a.ID)
}

func (t *txRepo) SoftDelete(ctx context.Context, id annotations.ID, userID string, at time.Time) error {
	const q = `UPDATE annotations SET annotation_type=?, user_id=?, updated_at=?, is_deleted=? WHERE id=?`
	res, err := t.q.ExecContext(ctx, t.s.rebind(q),
		string(annotations.StatusUserDeleted), userID, utc(at), true, int64(id))
	if err != nil {
		return apperr.Storage("tx.SoftDelete", err)
	}
	return t.requireRow(ctx, "tx.SoftDelete", res, id)
}

// requireRow reports NotFound when an update matched nothing. MySQL counts
// changed rows only, so a zero count is confirmed with a lookup.
func (t *txRepo) requireRow(ctx context.Context, op string, res sql.Result, id annotations.ID) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var one int
	err := t.q.QueryRowContext(ctx, t.s.rebind(`SELECT 1 FROM annotations WHERE id=?`), int64(id)).Scan(&one)
	if err != nil {
		return notFoundOr(op, err, "annotation %d", id)
	}
	return nil
}

func (t *txRepo) DeleteByInspection(ctx context.Context, inspectionID int64) (int64, error) {
	res, err := t.q.ExecContext(ctx, t.s.rebind(`DELETE FROM annotations WHERE inspection_id=?`), inspectionID)
	if err != nil {
		return 0, apperr.Storage("tx.DeleteByInspection", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *txRepo) AppendLog(ctx context.Context, e *annotations.LogEntry) error {
	before, err := encodeSnapshot(e.Before)
	if err != nil {
		return apperr.Storage("tx.AppendLog", err)
	}
	after, err := encodeSnapshot(e.After)
	if err != nil {
		return apperr.Storage("tx.AppendLog", err)
	}
	const q = `
INSERT INTO annotation_logs
 (inspection_id, annotation_id, action, user_id, before_json, after_json, logged_at)
VALUES (?,?,?,?,?,?,?)`
	id, err := t.s.insert(ctx, t.q, q,
		e.InspectionID, int64(e.AnnotationID), string(e.Action), e.UserID, before, after, utc(e.LoggedAt))
	if err != nil {
		return apperr.Storage("tx.AppendLog", err)
	}
	e.ID = id
	return nil
}

func (t *txRepo) FindResult(ctx context.Context, inspectionID int64) (*detections.Result, error) {
	return t.s.findResult(ctx, t.q, inspectionID)
}

func (t *txRepo) UpsertResult(ctx context.Context, r *detections.Result) error {
	const op = "tx.UpsertResult"
	q := `
INSERT INTO anomaly_detection_results
 (inspection_id, overall_status, detection_json, output_image_name, original_width, original_height, detected_at)
VALUES (?,?,?,?,?,?,?)` + t.s.d.Upsert("inspection_id",
		"overall_status", "detection_json", "output_image_name", "original_width", "original_height", "detected_at")

	detection := string(r.DetectionJSON)
	if detection == "" {
		detection = "{}"
	}
	if _, err := t.q.ExecContext(ctx, t.s.rebind(q),
		r.InspectionID, r.OverallStatus, detection, r.OutputImageName,
		nullInt(r.OriginalWidth), nullInt(r.OriginalHeight), utc(r.DetectedAt)); err != nil {
		return apperr.Storage(op, err)
	}
	err := t.q.QueryRowContext(ctx, t.s.rebind(`SELECT id FROM anomaly_detection_results WHERE inspection_id=?`),
		r.InspectionID).Scan(&r.ID)
	if err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

func (t *txRepo) DeleteResult(ctx context.Context, inspectionID int64) error {
	_, err := t.q.ExecContext(ctx, t.s.rebind(`DELETE FROM anomaly_detection_results WHERE inspection_id=?`), inspectionID)
	if err != nil {
		return apperr.Storage("tx.DeleteResult", err)
	}
	return nil
}

func (t *txRepo) DeleteLogs(ctx context.Context, inspectionID int64) error {
	_, err := t.q.ExecContext(ctx, t.s.rebind(`DELETE FROM annotation_logs WHERE inspection_id=?`), inspectionID)
	if err != nil {
		return apperr.Storage("tx.DeleteLogs", err)
	}
	return nil
}
