package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Upsert(ctx context.Context, clerkID, email string) error {
	query := `
		INSERT INTO accounts (clerk_id, email, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (clerk_id) DO UPDATE SET email = EXCLUDED.email, updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, clerkID, email); err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, clerkID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE clerk_id = $1`, clerkID); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (r *AccountRepository) EmailForSubject(ctx context.Context, clerkID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, `SELECT email FROM accounts WHERE clerk_id = $1`, clerkID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up account: %w", err)
	}
	return email, nil
}
