package training

import (
	"context"
	"time"
)

// ModelStore persists the production model pointer. CurrentModel returns ""
// when no fine-tuned model has been promoted yet.
type ModelStore interface {
	CurrentModel(ctx context.Context) (string, error)
	SetCurrentModel(ctx context.Context, name string, at time.Time) error
}
