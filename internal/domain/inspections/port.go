package inspections

import "context"

// Repository port. Both lookups return an apperr NotFound when absent.
type Repository interface {
	Get(ctx context.Context, id int64) (*Inspection, error)
	MaintenanceImage(ctx context.Context, inspectionID int64) (*ThermalImage, error)
}
