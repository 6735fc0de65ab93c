package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PoolConfig bounds the shared connection pool. Every component goes through
// the same pool.
type PoolConfig struct {
	MaxOpenConns          int
	ConnectTimeoutSeconds int
	ConnMaxIdleSeconds    int
}

type Database struct {
	DB *sql.DB
}

// InitDatabase opens the connection pool, verifies connectivity and runs
// pending migrations.
func InitDatabase(databaseURL string, pool PoolConfig) (*Database, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxOpenConns / 2)
	db.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleSeconds) * time.Second)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pool.ConnectTimeoutSeconds)*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close releases the connection pool.
func (d *Database) Close() error {
	return d.DB.Close()
}
