package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	pg := &Store{d: Dialect{Numbered: true}}
	assert.Equal(t, "SELECT 1 FROM t WHERE a=$1 AND b IN ($2, $3)", pg.rebind("SELECT 1 FROM t WHERE a=? AND b IN (?, ?)"))

	my := &Store{d: Dialect{}}
	assert.Equal(t, "a=? AND b=?", my.rebind("a=? AND b=?"))
}

func TestUpsertClauses(t *testing.T) {
	assert.Equal(t, " ON CONFLICT (id) DO UPDATE SET model_name=excluded.model_name, updated_at=excluded.updated_at",
		OnConflict("id", "model_name", "updated_at"))
	assert.Equal(t, " ON DUPLICATE KEY UPDATE model_name=VALUES(model_name)",
		OnDuplicateKey("id", "model_name"))
}
