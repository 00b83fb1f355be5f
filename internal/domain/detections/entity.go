package detections

import (
	"encoding/json"
	"time"
)

// Result is the single detection outcome kept per inspection.
type Result struct {
	ID              int64           `json:"id"`
	InspectionID    int64           `json:"inspectionId"`
	OverallStatus   string          `json:"overallStatus"`
	DetectionJSON   json.RawMessage `json:"detectionJsonOutput"`
	OutputImageName string          `json:"outputImageName"`
	OriginalWidth   *int            `json:"originalWidth"`
	OriginalHeight  *int            `json:"originalHeight"`
	DetectedAt      time.Time       `json:"detectedTimestamp"`
}
