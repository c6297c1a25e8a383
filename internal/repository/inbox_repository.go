package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nearGoAPI/internal/types/inbox"
)

type InboxRepository struct {
	db *pgxpool.Pool
}

func NewInboxRepository(db *pgxpool.Pool) *InboxRepository {
	return &InboxRepository{db: db}
}

// Insert adds an inbox item and reports false when the user was already notified about the offer.
func (r *InboxRepository) Insert(ctx context.Context, email string, offerID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO early_inbox (id, email, offer_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (email, offer_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, uuid.New(), email, offerID)
	if err != nil {
		return false, fmt.Errorf("failed to insert inbox item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *InboxRepository) ListUnread(ctx context.Context, email string, limit int) ([]inbox.Item, error) {
	query := `
		SELECT i.id, i.email, i.offer_id, o.title, o.publish_at, i.created_at, i.read_at
		FROM early_inbox i
		JOIN offers o ON o.id = i.offer_id
		WHERE i.email = $1 AND i.read_at IS NULL
		ORDER BY i.created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}
	return collectInbox(rows)
}

// TakeUnread returns up to limit unread items and marks them read in the same statement.
// Concurrent callers never receive the same item.
func (r *InboxRepository) TakeUnread(ctx context.Context, email string, limit int) ([]inbox.Item, error) {
	query := `
		WITH picked AS (
			SELECT id FROM early_inbox
			WHERE email = $1 AND read_at IS NULL
			ORDER BY created_at DESC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		), marked AS (
			UPDATE early_inbox i SET read_at = NOW()
			FROM picked
			WHERE i.id = picked.id
			RETURNING i.id, i.email, i.offer_id, i.created_at, i.read_at
		)
		SELECT m.id, m.email, m.offer_id, o.title, o.publish_at, m.created_at, m.read_at
		FROM marked m
		JOIN offers o ON o.id = m.offer_id
		ORDER BY m.created_at DESC
	`
	rows, err := r.db.Query(ctx, query, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to take inbox items: %w", err)
	}
	return collectInbox(rows)
}

func collectInbox(rows pgx.Rows) ([]inbox.Item, error) {
	defer rows.Close()
	items := []inbox.Item{}
	for rows.Next() {
		var it inbox.Item
		if err := rows.Scan(&it.ID, &it.Email, &it.OfferID, &it.Title, &it.PublishAt, &it.CreatedAt, &it.ReadAt); err != nil {
			return nil, fmt.Errorf("failed to scan inbox item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}
