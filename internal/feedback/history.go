package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryStore persists the rolling window of validation samples the
// degradation rule compares against.
type HistoryStore interface {
	// Append records one evaluated sample.
	Append(ctx context.Context, sample Sample) error
	// Recent returns samples newer than now minus lookback, oldest first.
	Recent(ctx context.Context, now time.Time, lookback time.Duration) ([]Sample, error)
}

// PostgresHistoryStore keeps the performance log in the scheduler's Postgres
// database (table performance_log).
type PostgresHistoryStore struct {
	db *pgxpool.Pool
}

// NewPostgresHistoryStore creates a new PostgresHistoryStore.
func NewPostgresHistoryStore(db *pgxpool.Pool) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

// Append records one evaluated sample.
func (s *PostgresHistoryStore) Append(ctx context.Context, sample Sample) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO performance_log (recorded_at, aggregate, sample_count) VALUES ($1, $2, $3)",
		sample.RecordedAt, sample.Aggregate, sample.SampleCount)
	if err != nil {
		return fmt.Errorf("failed to append performance sample: %w", err)
	}
	return nil
}

// Recent returns samples newer than now minus lookback, oldest first.
func (s *PostgresHistoryStore) Recent(ctx context.Context, now time.Time, lookback time.Duration) ([]Sample, error) {
	rows, err := s.db.Query(ctx,
		"SELECT recorded_at, aggregate, sample_count FROM performance_log WHERE recorded_at > $1 ORDER BY recorded_at",
		now.Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("failed to query performance log: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var sample Sample
		if err := rows.Scan(&sample.RecordedAt, &sample.Aggregate, &sample.SampleCount); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// MemoryHistoryStore is an in-memory HistoryStore for tests and dry runs.
type MemoryHistoryStore struct {
	mu      sync.Mutex
	samples []Sample
}

// NewMemoryHistoryStore creates a new MemoryHistoryStore.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

// Append records one evaluated sample.
func (s *MemoryHistoryStore) Append(_ context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

// Recent returns samples newer than now minus lookback, oldest first.
func (s *MemoryHistoryStore) Recent(_ context.Context, now time.Time, lookback time.Duration) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-lookback)
	var out []Sample
	for _, sample := range s.samples {
		if sample.RecordedAt.After(cutoff) {
			out = append(out, sample)
		}
	}
	return out, nil
}
