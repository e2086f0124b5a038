package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"canvas/api/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var ErrNoDatabaseURL = errors.New("database url is required")

// Pool holds the connection settings of the document registry.
type Pool struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func PoolFromConfig(cfg config.Config) Pool {
	return Pool{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// Open connects through the pgx driver and pings once. Zero pool values keep
// the database/sql defaults.
func Open(ctx context.Context, pool Pool) (*sql.DB, error) {
	if pool.URL == "" {
		return nil, ErrNoDatabaseURL
	}
	db, err := sql.Open("pgx", pool.URL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
		db.SetConnMaxIdleTime(pool.ConnMaxLifetime / 2)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
