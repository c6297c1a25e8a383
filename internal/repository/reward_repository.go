package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RewardRepository struct {
	db *pgxpool.Pool
}

func NewRewardRepository(db *pgxpool.Pool) *RewardRepository {
	return &RewardRepository{db: db}
}

func (r *RewardRepository) Balance(ctx context.Context, email string) (int, error) {
	var points int
	err := r.db.QueryRow(ctx, `SELECT points FROM reward_accounts WHERE email = $1`, email).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get reward balance: %w", err)
	}
	return points, nil
}

func (r *RewardRepository) Credit(ctx context.Context, email string, points int) (int, error) {
	query := `
		INSERT INTO reward_accounts (email, points, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO UPDATE SET points = reward_accounts.points + EXCLUDED.points, updated_at = NOW()
		RETURNING points
	`
	var balance int
	if err := r.db.QueryRow(ctx, query, email, points).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to credit reward points: %w", err)
	}
	return balance, nil
}

// CreditOnce credits points at most once per ref. A repeated ref returns the current balance and
// applied=false.
func (r *RewardRepository) CreditOnce(ctx context.Context, email string, points int, ref string) (int, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO reward_credits (ref, email, points)
		VALUES ($1, $2, $3)
		ON CONFLICT (ref) DO NOTHING
	`, ref, email, points)
	if err != nil {
		return 0, false, fmt.Errorf("failed to record reward credit: %w", err)
	}
	applied := tag.RowsAffected() > 0

	var balance int
	if applied {
		err = tx.QueryRow(ctx, `
			INSERT INTO reward_accounts (email, points, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (email) DO UPDATE SET points = reward_accounts.points + EXCLUDED.points, updated_at = NOW()
			RETURNING points
		`, email, points).Scan(&balance)
	} else {
		err = tx.QueryRow(ctx, `SELECT COALESCE((SELECT points FROM reward_accounts WHERE email = $1), 0)`, email).Scan(&balance)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to credit reward points: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return balance, applied, nil
}

// Debit subtracts points only when the balance covers them. Concurrent conversions can never
// drive the balance negative.
func (r *RewardRepository) Debit(ctx context.Context, email string, points int) (int, bool, error) {
	query := `
		UPDATE reward_accounts
		SET points = points - $2, updated_at = NOW()
		WHERE email = $1 AND points >= $2
		RETURNING points
	`
	var remaining int
	err := r.db.QueryRow(ctx, query, email, points).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to debit reward points: %w", err)
	}
	return remaining, true, nil
}
