package training

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/training"
)

// Registry holds the production model pointer. Reads are atomic loads, so
// a detection run that read the pointer keeps that model even if a
// fine-tune promotes a new one while it runs.
type Registry struct {
	store    training.ModelStore
	modelDir string
	current  atomic.Pointer[string]
}

// NewRegistry loads the persisted pointer.
func NewRegistry(ctx context.Context, store training.ModelStore, modelDir string) (*Registry, error) {
	r := &Registry{store: store, modelDir: modelDir}
	name, err := store.CurrentModel(ctx)
	if err != nil {
		return nil, err
	}
	r.current.Store(&name)
	return r, nil
}

// Current is the production model name, "" before the first promotion.
func (r *Registry) Current() string {
	if p := r.current.Load(); p != nil {
		return *p
	}
	return ""
}

// CurrentPath is the absolute artifact path of the production model.
func (r *Registry) CurrentPath() string {
	name := r.Current()
	if name == "" {
		return ""
	}
	p, err := filepath.Abs(filepath.Join(r.modelDir, name))
	if err != nil {
		return filepath.Join(r.modelDir, name)
	}
	return p
}

// Set persists name first and then publishes it.
func (r *Registry) Set(ctx context.Context, name string, at time.Time) error {
	if err := r.store.SetCurrentModel(ctx, name, at); err != nil {
		return err
	}
	r.current.Store(&name)
	return nil
}
