package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const selectPublicSetting = `SELECT "value" FROM "Settings" WHERE "key" = $1`

// PostgresClient reads public settings from the "Settings" table shared with
// the backend service.
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient wraps an open database handle.
func NewPostgresClient(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// OpenPostgres opens and pings a Postgres connection pool for dsn.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("settings: open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("settings: ping postgres: %w", err)
	}
	return db, nil
}

// PublicSetting implements Client. A NULL value reads as "".
func (c *PostgresClient) PublicSetting(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := c.db.QueryRowContext(ctx, selectPublicSetting, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("settings: query %s: %w", key, err)
	}
	return value.String, nil
}
