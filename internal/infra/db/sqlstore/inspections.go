package sqlstore

import (
	"context"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
)

type InspectionRepository struct{ s *Store }

func NewInspectionRepository(s *Store) *InspectionRepository { return &InspectionRepository{s: s} }

var _ inspections.Repository = (*InspectionRepository)(nil)

func (r *InspectionRepository) Get(ctx context.Context, id int64) (*inspections.Inspection, error) {
	var in inspections.Inspection
	err := r.s.db.QueryRowContext(ctx, r.s.rebind(`SELECT id, inspection_no, created_at FROM inspections WHERE id=?`), id).
		Scan(&in.ID, &in.InspectionNo, &in.CreatedAt)
	if err != nil {
		return nil, notFoundOr("inspections.Get", err, "inspection %d", id)
	}
	return &in, nil
}

// MaintenanceImage returns the single maintenance image of the inspection.
// More than one is a Conflict.
func (r *InspectionRepository) MaintenanceImage(ctx context.Context, inspectionID int64) (*inspections.ThermalImage, error) {
	const op = "inspections.MaintenanceImage"
	const q = `
SELECT id, inspection_id, file_name, image_type, uploaded_at
FROM thermal_images WHERE inspection_id=? AND image_type=?
ORDER BY id LIMIT 2`
	rows, err := r.s.db.QueryContext(ctx, r.s.rebind(q), inspectionID, string(inspections.ImageMaintenance))
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var found []*inspections.ThermalImage
	for rows.Next() {
		var img inspections.ThermalImage
		if err := rows.Scan(&img.ID, &img.InspectionID, &img.FileName, &img.ImageType, &img.UploadedAt); err != nil {
			return nil, apperr.Storage(op, err)
		}
		found = append(found, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	switch len(found) {
	case 0:
		return nil, apperr.NotFound(op, "no maintenance image for inspection %d", inspectionID)
	case 1:
		return found[0], nil
	default:
		return nil, apperr.Conflict(op, "inspection %d has more than one maintenance image", inspectionID)
	}
}

// CreateInspection inserts an inspection row. The inspection CRUD service
// owns these rows; this exists for seeding and the CLI.
func (r *InspectionRepository) CreateInspection(ctx context.Context, inspectionNo string) (int64, error) {
	id, err := r.s.insert(ctx, r.s.db, `INSERT INTO inspections (inspection_no, created_at) VALUES (?,?)`,
		inspectionNo, time.Now().UTC())
	if err != nil {
		return 0, apperr.Storage("inspections.Create", err)
	}
	return id, nil
}

// AddImage inserts a thermal image row for an inspection.
func (r *InspectionRepository) AddImage(ctx context.Context, inspectionID int64, fileName string, kind inspections.ImageType) (int64, error) {
	id, err := r.s.insert(ctx, r.s.db,
		`INSERT INTO thermal_images (inspection_id, file_name, image_type, uploaded_at) VALUES (?,?,?,?)`,
		inspectionID, fileName, string(kind), time.Now().UTC())
	if err != nil {
		return 0, apperr.Storage("inspections.AddImage", err)
	}
	return id, nil
}
