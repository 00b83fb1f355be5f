package detections

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/annotations"
)

// Location is the detector's corner-based box.
type Location struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Anomaly is one candidate box as emitted by the detector.
type Anomaly struct {
	Type          string    `json:"type"`
	Confidence    *float64  `json:"confidence"`
	SeverityScore *float64  `json:"severity_score"`
	Location      *Location `json:"location"`
}

type Dimensions struct {
	OriginalWidth  int `json:"original_width"`
	OriginalHeight int `json:"original_height"`
}

// Output is the parsed stdout document of one detector run.
type Output struct {
	OverallStatus   string
	Anomalies       []Anomaly
	RawAnomalies    json.RawMessage
	OutputImageName string
	Dimensions      *Dimensions
}

// ParseOutput decodes the detector's stdout. The payload must be a JSON
// object with an "anomalies" array; the other fields are optional.
func ParseOutput(stdout []byte) (*Output, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &doc); err != nil {
		return nil, fmt.Errorf("detector output is not a JSON object: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("detector output is not a JSON object")
	}

	raw, ok := doc["anomalies"]
	if !ok || !isArray(raw) {
		var reported string
		if msg, ok := doc["error"]; ok {
			_ = json.Unmarshal(msg, &reported)
		}
		if reported != "" {
			return nil, fmt.Errorf("detector output has no anomalies array: %s", reported)
		}
		return nil, fmt.Errorf("detector output has no anomalies array")
	}

	out := &Output{RawAnomalies: raw}
	if err := json.Unmarshal(raw, &out.Anomalies); err != nil {
		return nil, fmt.Errorf("decode anomalies: %w", err)
	}
	for i, a := range out.Anomalies {
		if a.Location == nil {
			return nil, fmt.Errorf("anomaly %d has no location", i)
		}
	}
	if err := optionalField(doc, "overall_status", &out.OverallStatus); err != nil {
		return nil, err
	}
	if err := optionalField(doc, "output_image_name", &out.OutputImageName); err != nil {
		return nil, err
	}
	if v, ok := doc["image_dimensions"]; ok && !isNull(v) {
		var d Dimensions
		if err := json.Unmarshal(v, &d); err != nil {
			return nil, fmt.Errorf("decode image_dimensions: %w", err)
		}
		out.Dimensions = &d
	}
	return out, nil
}

func optionalField(doc map[string]json.RawMessage, key string, dst *string) error {
	v, ok := doc[key]
	if !ok || isNull(v) {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// Box converts corners to a top-left rectangle.
func (a Anomaly) Box() annotations.Box {
	l := a.Location
	return annotations.Box{X: l.XMin, Y: l.YMin, Width: l.XMax - l.XMin, Height: l.YMax - l.YMin}
}

// Annotation builds the AI-provenance row seeded for this anomaly.
func (a Anomaly) Annotation(inspectionID int64, at time.Time) *annotations.Annotation {
	status := annotations.Status(a.Type)
	if a.Type == "" {
		status = annotations.DefaultDetectorStatus
	}
	var severity *int
	if a.SeverityScore != nil {
		v := int(math.Round(*a.SeverityScore))
		severity = &v
	}
	return &annotations.Annotation{
		InspectionID:  inspectionID,
		Status:        status,
		Source:        annotations.SourceAI,
		Confidence:    a.Confidence,
		SeverityScore: severity,
		FaultType:     string(status),
		Box:           a.Box(),
		UserID:        annotations.AIUserID,
		UpdatedAt:     at,
	}
}
