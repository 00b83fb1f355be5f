package annotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YasodaLAE/transformer/internal/application"
	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/detections"
)

// NoImage is reported when the inspection has no maintenance image.
const NoImage = "N/A"

// FeedbackRecord is one row of the feedback export, deleted boxes included.
type FeedbackRecord struct {
	InspectionID  int64  `json:"inspectionId"`
	InspectionNo  string `json:"inspectionNo"`
	ImageFileName string `json:"imageFileName"`

	AnnotationID annotations.ID     `json:"annotationId"`
	FinalStatus  annotations.Status `json:"finalStatus"`
	IsDeleted    bool               `json:"isDeleted"`
	Comments     *string            `json:"comments"`
	FaultType    string             `json:"faultType"`
	X            float64            `json:"x"`
	Y            float64            `json:"y"`
	Width        float64            `json:"width"`
	Height       float64            `json:"height"`
	AnnotatorID  string             `json:"annotatorId"`
	LastUpdated  time.Time          `json:"lastUpdated"`

	OriginalSource  annotations.Source `json:"originalSource"`
	AIConfidence    *float64           `json:"aiConfidence"`
	AISeverityScore *int               `json:"aiSeverityScore"`

	OverallStatus  *string `json:"overallStatus"`
	OriginalWidth  *int    `json:"originalWidth"`
	OriginalHeight *int    `json:"originalHeight"`
}

// ExportFileName is the attachment name of an inspection's export.
func ExportFileName(inspectionID int64) string {
	return fmt.Sprintf("feedback_log_inspection_%d.json", inspectionID)
}

// Export flattens every annotation of the inspection with its detection context.
func (s *Service) Export(ctx context.Context, inspectionID int64) (out []FeedbackRecord, err error) {
	defer func() { s.metrics().RecordOperation("export", application.Outcome(err)) }()

	insp, err := s.Inspections.Get(ctx, inspectionID)
	if err != nil {
		return nil, err
	}

	imageName := NoImage
	img, err := s.Inspections.MaintenanceImage(ctx, inspectionID)
	switch {
	case err == nil:
		imageName = img.FileName
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	var result *detections.Result
	if s.Results != nil {
		result, err = s.Results.FindResult(ctx, inspectionID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	rows, err := s.Repo.FindByInspection(ctx, inspectionID)
	if err != nil {
		return nil, err
	}

	out = make([]FeedbackRecord, 0, len(rows))
	for _, a := range rows {
		rec := FeedbackRecord{
			InspectionID:    insp.ID,
			InspectionNo:    insp.InspectionNo,
			ImageFileName:   imageName,
			AnnotationID:    a.ID,
			FinalStatus:     a.Status,
			IsDeleted:       a.IsDeleted(),
			Comments:        a.Comments,
			FaultType:       a.FaultType,
			X:               a.X,
			Y:               a.Y,
			Width:           a.Width,
			Height:          a.Height,
			AnnotatorID:     a.UserID,
			LastUpdated:     a.UpdatedAt,
			OriginalSource:  a.Source,
			AIConfidence:    a.Confidence,
			AISeverityScore: a.SeverityScore,
		}
		if result != nil {
			status := result.OverallStatus
			rec.OverallStatus = &status
			rec.OriginalWidth = result.OriginalWidth
			rec.OriginalHeight = result.OriginalHeight
		}
		out = append(out, rec)
	}
	s.log().Debug("export built", zap.Int64("inspection_id", inspectionID), zap.Int("records", len(out)))
	return out, nil
}
