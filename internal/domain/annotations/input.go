package annotations

// Input is one box of a client-submitted final state. ID is nil for
// boxes that have never been persisted.
type Input struct {
	ID        *ID     `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Comments  *string `json:"comments"`
	FaultType string  `json:"faultType"`
	UserID    string  `json:"userId"`

	// Echoed detector fields, only meaningful for AI boxes that are saved
	// for the first time.
	CurrentStatus     Status   `json:"currentStatus,omitempty"`
	AIConfidence      *float64 `json:"aiConfidence"`
	AISeverityScore   *int     `json:"aiSeverityScore"`
	OriginalX         *float64 `json:"originalX"`
	OriginalY         *float64 `json:"originalY"`
	OriginalWidth     *float64 `json:"originalWidth"`
	OriginalHeight    *float64 `json:"originalHeight"`
	OriginalFaultType *string  `json:"originalFaultType"`
	OriginalComments  *string  `json:"originalComments"`
}

func (in Input) Box() Box {
	return Box{X: in.X, Y: in.Y, Width: in.Width, Height: in.Height}
}

// OriginalBox returns the echoed detector geometry when all four axes are present.
func (in Input) OriginalBox() (Box, bool) {
	if in.OriginalX == nil || in.OriginalY == nil || in.OriginalWidth == nil || in.OriginalHeight == nil {
		return Box{}, false
	}
	return Box{X: *in.OriginalX, Y: *in.OriginalY, Width: *in.OriginalWidth, Height: *in.OriginalHeight}, true
}

// IsAIOrigin reports whether an unsaved box carries detector metrics.
func (in Input) IsAIOrigin() bool {
	return in.AIConfidence != nil || in.AISeverityScore != nil
}

// detectorStatus is the classification the detector gave an unsaved AI box.
func (in Input) detectorStatus() Status {
	if in.CurrentStatus == "" || in.CurrentStatus.isUserLabel() {
		return DefaultDetectorStatus
	}
	return in.CurrentStatus
}

// editedFromOriginal compares an unsaved AI box against its echoed origin.
// Axes or fault type that were not echoed are not compared. Detector boxes
// carry no comments, so a missing original comment counts as nil.
func (in Input) editedFromOriginal() bool {
	if orig, ok := in.OriginalBox(); ok && in.Box().Differs(orig) {
		return true
	}
	if in.OriginalFaultType != nil && *in.OriginalFaultType != in.FaultType {
		return true
	}
	return !equalComments(in.Comments, in.OriginalComments)
}
