package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/YasodaLAE/transformer/internal/infra/db/sqlstore"
)

func Connect(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Open connects and returns a store speaking the MySQL dialect.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sqlstore.Store, error) {
	db, err := Connect(ctx, dsn, maxOpen, maxIdle)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(db, Dialect), nil
}
