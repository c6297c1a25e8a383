package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nearGoAPI/internal/types/preference"
)

const preferenceColumns = `
	np.email, np.categories, np.lat, np.lng, np.radius_km, np.phone,
	np.push_enabled, np.email_enabled, np.device_tokens, np.updated_at
`

type PreferenceRepository struct {
	db *pgxpool.Pool
}

func NewPreferenceRepository(db *pgxpool.Pool) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) Get(ctx context.Context, email string) (*preference.Preference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences np WHERE np.email = $1`
	return scanPreference(r.db.QueryRow(ctx, query, email))
}

func (r *PreferenceRepository) Upsert(ctx context.Context, p *preference.Preference) error {
	tokens := p.DeviceTokens
	if tokens == nil {
		tokens = []preference.DeviceToken{}
	}
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal device tokens: %w", err)
	}
	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}

	query := `
		INSERT INTO notification_preferences (
			email, categories, lat, lng, radius_km, phone, push_enabled, email_enabled, device_tokens, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, NOW())
		ON CONFLICT (email) DO UPDATE SET
			categories = EXCLUDED.categories,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			radius_km = EXCLUDED.radius_km,
			phone = EXCLUDED.phone,
			push_enabled = EXCLUDED.push_enabled,
			email_enabled = EXCLUDED.email_enabled,
			device_tokens = EXCLUDED.device_tokens,
			updated_at = NOW()
		RETURNING updated_at
	`
	err = r.db.QueryRow(ctx, query,
		p.Email, categories, p.Latitude, p.Longitude, p.RadiusKm, p.Phone,
		p.PushEnabled, p.EmailEnabled, string(tokensJSON),
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// ListPremiumByCategory returns preferences following category whose owner holds an active
// premium membership at now.
func (r *PreferenceRepository) ListPremiumByCategory(ctx context.Context, category string, now time.Time) ([]preference.Preference, error) {
	query := `
		SELECT ` + preferenceColumns + `
		FROM notification_preferences np
		JOIN premium_members pm ON pm.email = np.email
		WHERE $1 = ANY(np.categories)
		  AND pm.status IN ('active', 'trialing')
		  AND pm.valid_until > $2
	`
	rows, err := r.db.Query(ctx, query, category, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list premium preferences: %w", err)
	}
	defer rows.Close()

	var prefs []preference.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return prefs, nil
}

func scanPreference(row pgx.Row) (*preference.Preference, error) {
	var p preference.Preference
	var tokensJSON []byte
	err := row.Scan(
		&p.Email, &p.Categories, &p.Latitude, &p.Longitude, &p.RadiusKm, &p.Phone,
		&p.PushEnabled, &p.EmailEnabled, &tokensJSON, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan preferences: %w", err)
	}
	if len(tokensJSON) > 0 {
		if err := json.Unmarshal(tokensJSON, &p.DeviceTokens); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device tokens: %w", err)
		}
	}
	return &p, nil
}
