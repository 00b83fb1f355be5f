package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/YasodaLAE/transformer/internal/infra/db/sqlstore"
)

func Connect(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sqlstore.Store, error) {
	db, err := Connect(ctx, dsn, maxOpen, maxIdle)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(db, Dialect), nil
}
