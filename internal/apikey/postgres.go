package apikey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore is the PostgreSQL-backed implementation of Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a key store over an open database handle.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("apikey: database connection is required")
	}
	return &PostgresStore{db: db}, nil
}

const keyColumns = `id, key, service_name, is_active,
	COALESCE(rate_limit, 0), COALESCE(rate_window_seconds, 0),
	created_at, updated_at`

// Create inserts a new key record, assigning an ID when absent.
func (s *PostgresStore) Create(ctx context.Context, key Key) (Key, error) {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, key, service_name, is_active, rate_limit, rate_window_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, 0), NULLIF($6, 0), $7, $7)
	`, key.ID, key.Key, key.ServiceName, key.IsActive, key.RateLimit, key.RateWindowSeconds, now)
	if err != nil {
		return Key{}, fmt.Errorf("apikey: create failed: %w", err)
	}

	key.CreatedAt = now
	key.UpdatedAt = now
	return key, nil
}

// List returns all key records ordered by creation time.
func (s *PostgresStore) List(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("apikey: list failed: %w", err)
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("apikey: list scan failed: %w", err)
	}

	return out, nil
}

// GetByID returns the record with the given ID.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanKey(row)
}

// GetActiveByKey returns the active record matching the key value.
func (s *PostgresStore) GetActiveByKey(ctx context.Context, key string) (Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key = $1 AND is_active`, key)
	return scanKey(row)
}

// Update replaces the mutable fields of the record with the given ID.
func (s *PostgresStore) Update(ctx context.Context, id string, key Key) (Key, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE api_keys
		SET key = $2, service_name = $3, is_active = $4,
		    rate_limit = NULLIF($5, 0), rate_window_seconds = NULLIF($6, 0),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+keyColumns,
		id, key.Key, key.ServiceName, key.IsActive, key.RateLimit, key.RateWindowSeconds)
	return scanKey(row)
}

// Delete removes the record with the given ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("apikey: delete failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apikey: delete rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (Key, error) {
	var k Key
	err := row.Scan(&k.ID, &k.Key, &k.ServiceName, &k.IsActive,
		&k.RateLimit, &k.RateWindowSeconds, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, ErrNotFound
	}
	if err != nil {
		return Key{}, fmt.Errorf("apikey: scan failed: %w", err)
	}
	return k, nil
}
