package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nearGoAPI/internal/types/premium"
)

type PremiumRepository struct {
	db *pgxpool.Pool
}

func NewPremiumRepository(db *pgxpool.Pool) *PremiumRepository {
	return &PremiumRepository{db: db}
}

func (r *PremiumRepository) Get(ctx context.Context, email string) (*premium.Membership, error) {
	query := `
		SELECT email, stripe_customer_id, COALESCE(stripe_subscription_id, ''), status, valid_until, updated_at
		FROM premium_members
		WHERE email = $1
	`
	var m premium.Membership
	err := r.db.QueryRow(ctx, query, email).Scan(
		&m.Email, &m.StripeCustomerID, &m.StripeSubscriptionID, &m.Status, &m.ValidUntil, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get premium membership: %w", err)
	}
	return &m, nil
}

func (r *PremiumRepository) Upsert(ctx context.Context, m *premium.Membership) error {
	query := `
		INSERT INTO premium_members (email, stripe_customer_id, stripe_subscription_id, status, valid_until, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NOW())
		ON CONFLICT (email) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			status = EXCLUDED.status,
			valid_until = EXCLUDED.valid_until,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, m.Email, m.StripeCustomerID, m.StripeSubscriptionID, m.Status, m.ValidUntil)
	if err != nil {
		return fmt.Errorf("failed to save premium membership: %w", err)
	}
	return nil
}

// UpdateBySubscription applies a subscription lifecycle change. A zero validUntil keeps the stored value.
func (r *PremiumRepository) UpdateBySubscription(ctx context.Context, subscriptionID, status string, validUntil time.Time) (bool, error) {
	var until *time.Time
	if !validUntil.IsZero() {
		until = &validUntil
	}
	query := `
		UPDATE premium_members
		SET status = $2, valid_until = COALESCE($3, valid_until), updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`
	tag, err := r.db.Exec(ctx, query, subscriptionID, status, until)
	if err != nil {
		return false, fmt.Errorf("failed to update premium membership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
