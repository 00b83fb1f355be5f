package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/domain/training"
)

// ModelRepository keeps the production model pointer in a single row.
type ModelRepository struct{ s *Store }

func NewModelRepository(s *Store) *ModelRepository { return &ModelRepository{s: s} }

var _ training.ModelStore = (*ModelRepository)(nil)

func (r *ModelRepository) CurrentModel(ctx context.Context) (string, error) {
	var name string
	err := r.s.db.QueryRowContext(ctx, r.s.rebind(`SELECT model_name FROM model_registry WHERE id=?`), 1).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Storage("models.Current", err)
	}
	return name, nil
}

func (r *ModelRepository) SetCurrentModel(ctx context.Context, name string, at time.Time) error {
	q := `INSERT INTO model_registry (id, model_name, updated_at) VALUES (?,?,?)` +
		r.s.d.Upsert("id", "model_name", "updated_at")
	if _, err := r.s.db.ExecContext(ctx, r.s.rebind(q), 1, name, utc(at)); err != nil {
		return apperr.Storage("models.Set", err)
	}
	return nil
}
