// Package sqlstore implements the repository ports on database/sql. The
// mysql, postgres and sqlite packages supply a Dialect and a connection.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/YasodaLAE/transformer/internal/domain/apperr"
)

// Dialect captures what differs between the supported engines.
type Dialect struct {
	Name string
	// Numbered rewrites ? placeholders to $1, $2, ...
	Numbered bool
	// Returning uses INSERT ... RETURNING id instead of LastInsertId.
	Returning bool
	// Upsert renders the conflict clause for an insert keyed on conflict.
	Upsert func(conflict string, cols ...string) string
	Schema []string
}

// OnConflict is the PostgreSQL and SQLite upsert clause.
func OnConflict(conflict string, cols ...string) string {
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = c + "=excluded." + c
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflict, strings.Join(set, ", "))
}

// OnDuplicateKey is the MySQL upsert clause.
func OnDuplicateKey(_ string, cols ...string) string {
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = c + "=VALUES(" + c + ")"
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(set, ", ")
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is shared by the repositories of one database.
type Store struct {
	db *sql.DB
	d  Dialect
}

func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() string { return s.d.Name }

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Storage("sqlstore.Migrate", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) rebind(q string) string {
	if !s.d.Numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) withinTx(ctx context.Context, op string, fn func(*txRepo) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(&txRepo{s: s, q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// insert runs an INSERT and returns the generated id.
func (s *Store) insert(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	if s.d.Returning {
		var id int64
		err := q.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// notFoundOr maps sql.ErrNoRows to NotFound and wraps anything else.
func notFoundOr(op string, err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(op, format, args...)
	}
	return apperr.Storage(op, err)
}
