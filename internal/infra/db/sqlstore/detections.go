package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/YasodaLAE/transformer/internal/domain/detections"
)

type DetectionRepository struct{ s *Store }

func NewDetectionRepository(s *Store) *DetectionRepository { return &DetectionRepository{s: s} }

var _ detections.Repository = (*DetectionRepository)(nil)

func (r *DetectionRepository) FindResult(ctx context.Context, inspectionID int64) (*detections.Result, error) {
	return r.s.findResult(ctx, r.s.db, inspectionID)
}

func (r *DetectionRepository) WithinTx(ctx context.Context, fn func(tx detections.Tx) error) error {
	return r.s.withinTx(ctx, "detections.WithinTx", func(t *txRepo) error { return fn(t) })
}

func (s *Store) findResult(ctx context.Context, q querier, inspectionID int64) (*detections.Result, error) {
	const query = `
SELECT id, inspection_id, overall_status, detection_json, output_image_name,
       original_width, original_height, detected_at
FROM anomaly_detection_results WHERE inspection_id=?`
	var (
		r         detections.Result
		detection string
		w, h      sql.NullInt64
	)
	err := q.QueryRowContext(ctx, s.rebind(query), inspectionID).Scan(
		&r.ID, &r.InspectionID, &r.OverallStatus, &detection, &r.OutputImageName, &w, &h, &r.DetectedAt)
	if err != nil {
		return nil, notFoundOr("detections.FindResult", err, "no detection result for inspection %d", inspectionID)
	}
	r.DetectionJSON = json.RawMessage(detection)
	if w.Valid {
		v := int(w.Int64)
		r.OriginalWidth = &v
	}
	if h.Valid {
		v := int(h.Int64)
		r.OriginalHeight = &v
	}
	r.DetectedAt = r.DetectedAt.UTC()
	return &r, nil
}
