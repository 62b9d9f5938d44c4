package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// FailureStore implements domain.FailureStore using PostgreSQL.
type FailureStore struct {
	pool *pgxpool.Pool
}

// NewFailureStore creates a new FailureStore backed by the given connection pool.
func NewFailureStore(pool *pgxpool.Pool) *FailureStore {
	return &FailureStore{pool: pool}
}

// Insert records a finalization attempt that exhausted its retries.
func (s *FailureStore) Insert(ctx context.Context, f domain.FinalizationFailure) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO finalization_failures (market_id, attempts, last_error, failed_at)
		 VALUES ($1, $2, $3, $4)`,
		f.MarketID, f.Attempts, f.LastError, f.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert finalization failure market=%d: %w", f.MarketID, err)
	}
	return nil
}

// ListRecent returns the newest failures first.
func (s *FailureStore) ListRecent(ctx context.Context, limit int) ([]domain.FinalizationFailure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, attempts, last_error, failed_at
		 FROM finalization_failures
		 ORDER BY failed_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finalization failures: %w", err)
	}
	defer rows.Close()

	var failures []domain.FinalizationFailure
	for rows.Next() {
		var f domain.FinalizationFailure
		if err := rows.Scan(&f.ID, &f.MarketID, &f.Attempts, &f.LastError, &f.FailedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan finalization failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list finalization failures: %w", err)
	}
	return failures, nil
}
