package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nearGoAPI/internal/types/entitlement"
)

const entitlementColumns = `
	token, kind, status, event_id, benefit, purchaser_email, source_ref,
	issued_at, redeemed_at, redeemed_by, cancelled_at
`

type EntitlementRepository struct {
	db *pgxpool.Pool
}

func NewEntitlementRepository(db *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

// Insert stores a freshly issued entitlement. A second insert with the same source_ref is
// reported as ErrDuplicate and leaves the first row untouched.
func (r *EntitlementRepository) Insert(ctx context.Context, e *entitlement.Entitlement) error {
	query := `
		INSERT INTO entitlements (token, kind, status, event_id, benefit, purchaser_email, source_ref, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_ref) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		e.Token, e.Kind, e.Status, e.EventID, e.Benefit, e.PurchaserEmail, e.SourceRef, e.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entitlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *EntitlementRepository) GetByToken(ctx context.Context, token string) (*entitlement.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE token = $1`
	return scanEntitlement(r.db.QueryRow(ctx, query, token))
}

func (r *EntitlementRepository) GetBySourceRef(ctx context.Context, ref string) (*entitlement.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE source_ref = $1`
	return scanEntitlement(r.db.QueryRow(ctx, query, ref))
}

// MarkRedeemed moves an issued entitlement to redeemed. It reports false when the row was not in
// the issued state, which is how concurrent scanners learn they lost the race.
func (r *EntitlementRepository) MarkRedeemed(ctx context.Context, token, redeemedBy string) (time.Time, bool, error) {
	query := `
		UPDATE entitlements
		SET status = 'redeemed', redeemed_at = NOW(), redeemed_by = $2
		WHERE token = $1 AND status = 'issued'
		RETURNING redeemed_at
	`
	var redeemedAt time.Time
	err := r.db.QueryRow(ctx, query, token, redeemedBy).Scan(&redeemedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to redeem entitlement: %w", err)
	}
	return redeemedAt, true, nil
}

func (r *EntitlementRepository) MarkCancelled(ctx context.Context, token string) (time.Time, bool, error) {
	query := `
		UPDATE entitlements
		SET status = 'cancelled', cancelled_at = NOW()
		WHERE token = $1 AND status = 'issued'
		RETURNING cancelled_at
	`
	var cancelledAt time.Time
	err := r.db.QueryRow(ctx, query, token).Scan(&cancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to cancel entitlement: %w", err)
	}
	return cancelledAt, true, nil
}

func (r *EntitlementRepository) AppendAudit(ctx context.Context, a *entitlement.ScanAudit) error {
	query := `
		INSERT INTO scan_audit (token, event_id, requester_kind, requester_subject, requester_ip, scanner_key_hash, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		a.Token, a.EventID, a.RequesterKind, a.RequesterSubject, a.RequesterIP, a.ScannerKeyHash, a.Outcome, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append scan audit: %w", err)
	}
	return nil
}

func scanEntitlement(row pgx.Row) (*entitlement.Entitlement, error) {
	var e entitlement.Entitlement
	err := row.Scan(
		&e.Token, &e.Kind, &e.Status, &e.EventID, &e.Benefit, &e.PurchaserEmail, &e.SourceRef,
		&e.IssuedAt, &e.RedeemedAt, &e.RedeemedBy, &e.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entitlement: %w", err)
	}
	return &e, nil
}
