package application

import (
	"context"
	"fmt"
	"time"
)

// Clock interface supaya gampang ditest
type Clock interface {
	Now() time.Time
}

// SystemClock implementasi default, pakai time.Now() in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Locker serializes work on one key, e.g. one inspection. The returned
// unlock func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// InspectionLockKey is the lock shared by saves, detection runs and purges
// of one inspection.
func InspectionLockKey(inspectionID int64) string {
	return fmt.Sprintf("inspection:%d", inspectionID)
}

// Recorder receives use-case outcomes, e.g. RecordOperation("detection", "success").
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
}

// NopRecorder drops everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string)  {}
func (NopRecorder) RecordDuration(string, float64) {}

// Outcome labels a finished operation for a Recorder.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
