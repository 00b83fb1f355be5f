package inspections

import "time"

// Inspection is owned by the inspection CRUD service; this module only reads it.
type Inspection struct {
	ID           int64     `json:"id"`
	InspectionNo string    `json:"inspectionNo"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ImageType enum
type ImageType string

const (
	ImageMaintenance ImageType = "MAINTENANCE"
	ImageBaseline    ImageType = "BASELINE"
)

// ThermalImage is a stored image file, relative to the storage root.
type ThermalImage struct {
	ID           int64     `json:"id"`
	InspectionID int64     `json:"inspectionId"`
	FileName     string    `json:"fileName"`
	ImageType    ImageType `json:"imageType"`
	UploadedAt   time.Time `json:"uploadedAt"`
}
