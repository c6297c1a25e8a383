package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateCounterRepository stores fixed-window counters for ratelimit.Guard.
type RateCounterRepository struct {
	db *pgxpool.Pool
}

func NewRateCounterRepository(db *pgxpool.Pool) *RateCounterRepository {
	return &RateCounterRepository{db: db}
}

func (r *RateCounterRepository) Increment(ctx context.Context, key string, limit int, expiresAt time.Time) (int, bool, error) {
	query := `
		INSERT INTO rate_counters (key, count, expires_at)
		VALUES ($1, 1, $3)
		ON CONFLICT (key) DO UPDATE SET count = rate_counters.count + 1
		WHERE rate_counters.count < $2
		RETURNING count
	`
	var count int
	err := r.db.QueryRow(ctx, query, key, limit, expiresAt).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to increment rate counter: %w", err)
	}

	// The conflict branch was filtered out, so the counter is already at the limit.
	if err := r.db.QueryRow(ctx, `SELECT count FROM rate_counters WHERE key = $1`, key).Scan(&count); err != nil {
		return limit, false, nil
	}
	return count, false, nil
}

func (r *RateCounterRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM rate_counters WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rate counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
