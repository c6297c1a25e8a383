package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nearGoAPI/internal/types/offer"
)

const offerColumns = `
	id, provider_subject, kind, title, description, subcategory, benefit, price_cents, currency,
	venue_name, lat, lng, publish_at, starts_at, early_notified_at, created_at, updated_at
`

type OfferRepository struct {
	db *pgxpool.Pool
}

func NewOfferRepository(db *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{db: db}
}

func (r *OfferRepository) Create(ctx context.Context, o *offer.Offer) error {
	query := `
		INSERT INTO offers (
			id, provider_subject, kind, title, description, subcategory, benefit, price_cents, currency,
			venue_name, lat, lng, publish_at, starts_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Exec(ctx, query,
		o.ID, o.ProviderSubject, o.Kind, o.Title, o.Description, o.Subcategory, o.Benefit, o.PriceCents, o.Currency,
		o.VenueName, o.Latitude, o.Longitude, o.PublishAt, o.StartsAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

// Update rewrites an offer owned by providerSubject. Moving publish_at re-arms the early notifier.
func (r *OfferRepository) Update(ctx context.Context, o *offer.Offer, providerSubject string) error {
	query := `
		UPDATE offers
		SET kind = $3, title = $4, description = $5, subcategory = $6, benefit = $7, price_cents = $8,
			currency = $9, venue_name = $10, lat = $11, lng = $12, starts_at = $14, updated_at = NOW(),
			early_notified_at = CASE WHEN publish_at = $13 THEN early_notified_at ELSE NULL END,
			publish_at = $13
		WHERE id = $1 AND provider_subject = $2
		RETURNING ` + offerColumns
	updated, err := scanOffer(r.db.QueryRow(ctx, query,
		o.ID, providerSubject, o.Kind, o.Title, o.Description, o.Subcategory, o.Benefit, o.PriceCents,
		o.Currency, o.VenueName, o.Latitude, o.Longitude, o.PublishAt, o.StartsAt,
	))
	if err != nil {
		return err
	}
	*o = *updated
	return nil
}

func (r *OfferRepository) Get(ctx context.Context, id uuid.UUID) (*offer.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`
	return scanOffer(r.db.QueryRow(ctx, query, id))
}

// SearchPublished returns offers already public at now, newest first.
func (r *OfferRepository) SearchPublished(ctx context.Context, q offer.SearchQuery, now time.Time, limit int) ([]offer.Offer, error) {
	query := `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE publish_at <= $1
		  AND ($2::text = '' OR title ILIKE $2::text ESCAPE '\' OR description ILIKE $2::text ESCAPE '\'
		       OR venue_name ILIKE $2::text ESCAPE '\')
		  AND ($3::text = '' OR subcategory = $3::text)
		ORDER BY publish_at DESC
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, now, containsPattern(q.Text), q.Subcategory, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search offers: %w", err)
	}
	return collectOffers(rows)
}

// ListPublishingBetween returns offers in the given subcategories publishing in (from, to].
func (r *OfferRepository) ListPublishingBetween(ctx context.Context, from, to time.Time, categories []string) ([]offer.Offer, error) {
	query := `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE publish_at > $1 AND publish_at <= $2 AND subcategory = ANY($3)
		ORDER BY publish_at ASC
	`
	rows, err := r.db.Query(ctx, query, from, to, categories)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming offers: %w", err)
	}
	return collectOffers(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns free text into an ILIKE substring pattern with its wildcards escaped.
func containsPattern(text string) string {
	if text == "" {
		return ""
	}
	return "%" + likeEscaper.Replace(text) + "%"
}

// ClaimEarlyWindow marks every offer whose early window has opened at now and returns them. The
// update is conditional on early_notified_at being unset, so each offer is claimed once across
// instances.
func (r *OfferRepository) ClaimEarlyWindow(ctx context.Context, now time.Time, window time.Duration) ([]offer.Offer, error) {
	query := `
		UPDATE offers
		SET early_notified_at = NOW()
		WHERE early_notified_at IS NULL AND publish_at > $1 AND publish_at <= $2
		RETURNING ` + offerColumns
	rows, err := r.db.Query(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to claim early window offers: %w", err)
	}
	return collectOffers(rows)
}

// ClaimOffer claims a single offer for early notification.
func (r *OfferRepository) ClaimOffer(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE offers SET early_notified_at = NOW() WHERE id = $1 AND early_notified_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim offer: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseClaim clears the early notification claim so the next sweep picks the offer up again.
func (r *OfferRepository) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `UPDATE offers SET early_notified_at = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to release offer claim: %w", err)
	}
	return nil
}

func collectOffers(rows pgx.Rows) ([]offer.Offer, error) {
	defer rows.Close()
	var offers []offer.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return offers, nil
}

func scanOffer(row pgx.Row) (*offer.Offer, error) {
	var o offer.Offer
	err := row.Scan(
		&o.ID, &o.ProviderSubject, &o.Kind, &o.Title, &o.Description, &o.Subcategory, &o.Benefit,
		&o.PriceCents, &o.Currency, &o.VenueName, &o.Latitude, &o.Longitude, &o.PublishAt, &o.StartsAt,
		&o.EarlyNotifiedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan offer: %w", err)
	}
	return &o, nil
}
