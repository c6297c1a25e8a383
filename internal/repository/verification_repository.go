package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type VerificationRepository struct {
	db *pgxpool.Pool
}

func NewVerificationRepository(db *pgxpool.Pool) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Upsert replaces any outstanding code for identity.
func (r *VerificationRepository) Upsert(ctx context.Context, identity, codeHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO verification_codes (identity, code_hash, expires_at, consumed_at, created_at)
		VALUES ($1, $2, $3, NULL, NOW())
		ON CONFLICT (identity) DO UPDATE SET
			code_hash = EXCLUDED.code_hash,
			expires_at = EXCLUDED.expires_at,
			consumed_at = NULL,
			created_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, identity, codeHash, expiresAt); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	return nil
}

// Consume marks the code used if it matches, is unexpired and was not used before.
func (r *VerificationRepository) Consume(ctx context.Context, identity, codeHash string, now time.Time) (bool, error) {
	query := `
		UPDATE verification_codes
		SET consumed_at = $3
		WHERE identity = $1 AND code_hash = $2 AND consumed_at IS NULL AND expires_at > $3
	`
	tag, err := r.db.Exec(ctx, query, identity, codeHash, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume verification code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *VerificationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM verification_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verification codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
