package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/config"
)

// DB holds the database connection
type DB struct {
	Conn   *sqlx.DB
	Driver string
}

// NewDB creates the database connection using config
func NewDB(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*DB, error) {
	var (
		db  *DB
		err error
	)
	switch cfg.Database.Driver {
	case "sqlite3":
		db, err = OpenSQLite(cfg.Database.SQLitePath)
	default:
		db, err = openPostgres(cfg.Database)
	}
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Conn.PingContext(ctx); err != nil {
		db.Conn.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", db.Driver, err)
	}

	log.Info().Str("driver", db.Driver).Msg("Successfully connected to database")

	return db, nil
}

func openPostgres(cfg config.DatabaseConfig) (*DB, error) {
	postgres, err := sqlx.Connect("postgres", cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	postgres.SetMaxOpenConns(cfg.MaxConns)
	postgres.SetMaxIdleConns(cfg.MinConns)
	postgres.SetConnMaxLifetime(time.Hour)

	return &DB{Conn: postgres, Driver: "postgres"}, nil
}

// OpenSQLite opens an SQLite database. SQLite allows a single writer, so the
// pool is pinned to one connection; this also keeps ":memory:" databases alive
// for the life of the handle.
func OpenSQLite(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	return &DB{Conn: conn, Driver: "sqlite3"}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if err := db.Conn.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", db.Driver, err)
	}

	return nil
}
