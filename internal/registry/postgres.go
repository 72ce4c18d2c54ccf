package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"regimecast/scheduler/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Store interface. Each
// entity maps to one row; the record column holds the externally visible
// JSON layout (versions array plus active_version), which monitoring tooling
// reads directly and which therefore must not change shape.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the registry tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS entity_records (
		entity TEXT PRIMARY KEY,
		record JSONB NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create entity_records table: %w", err)
	}
	_, err = s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS performance_log (
		id BIGSERIAL PRIMARY KEY,
		recorded_at TIMESTAMPTZ NOT NULL,
		aggregate DOUBLE PRECISION NOT NULL,
		sample_count INT NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("failed to create performance_log table: %w", err)
	}
	return nil
}

// GetRecord retrieves the record for an entity, or ErrRecordNotFound.
func (s *PostgresStore) GetRecord(ctx context.Context, entity string) (*models.EntityRecord, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, "SELECT record FROM entity_records WHERE entity = $1", entity).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record for %q: %w", entity, err)
	}
	var record models.EntityRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record for %q: %w", entity, err)
	}
	return &record, nil
}

// PutRecord writes the full record for an entity, creating or replacing it.
func (s *PostgresStore) PutRecord(ctx context.Context, record *models.EntityRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record for %q: %w", record.Entity, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO entity_records (entity, record) VALUES ($1, $2)
		 ON CONFLICT (entity) DO UPDATE SET record = EXCLUDED.record`,
		record.Entity, raw)
	if err != nil {
		return fmt.Errorf("failed to write record for %q: %w", record.Entity, err)
	}
	return nil
}

// ListRecords retrieves all records, ordered by entity name.
func (s *PostgresStore) ListRecords(ctx context.Context) ([]*models.EntityRecord, error) {
	rows, err := s.db.Query(ctx, "SELECT record FROM entity_records ORDER BY entity")
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*models.EntityRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var record models.EntityRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}
