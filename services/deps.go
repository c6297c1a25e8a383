package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nearGoAPI/internal/notification"
	"nearGoAPI/internal/ratelimit"
	"nearGoAPI/internal/types/entitlement"
	"nearGoAPI/internal/types/inbox"
	"nearGoAPI/internal/types/offer"
	"nearGoAPI/internal/types/preference"
	"nearGoAPI/internal/types/premium"
)

// The interfaces below are satisfied by the Postgres repositories in internal/repository and by
// in-memory fakes in tests.

type EntitlementStore interface {
	Insert(ctx context.Context, e *entitlement.Entitlement) error
	GetByToken(ctx context.Context, token string) (*entitlement.Entitlement, error)
	GetBySourceRef(ctx context.Context, ref string) (*entitlement.Entitlement, error)
	MarkRedeemed(ctx context.Context, token, redeemedBy string) (time.Time, bool, error)
	MarkCancelled(ctx context.Context, token string) (time.Time, bool, error)
	AppendAudit(ctx context.Context, a *entitlement.ScanAudit) error
}

type OfferStore interface {
	Create(ctx context.Context, o *offer.Offer) error
	Update(ctx context.Context, o *offer.Offer, providerSubject string) error
	Get(ctx context.Context, id uuid.UUID) (*offer.Offer, error)
	SearchPublished(ctx context.Context, q offer.SearchQuery, now time.Time, limit int) ([]offer.Offer, error)
	ListPublishingBetween(ctx context.Context, from, to time.Time, categories []string) ([]offer.Offer, error)
	ClaimEarlyWindow(ctx context.Context, now time.Time, window time.Duration) ([]offer.Offer, error)
	ClaimOffer(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
}

type PreferenceStore interface {
	Get(ctx context.Context, email string) (*preference.Preference, error)
	Upsert(ctx context.Context, p *preference.Preference) error
	ListPremiumByCategory(ctx context.Context, category string, now time.Time) ([]preference.Preference, error)
}

type PremiumStore interface {
	Get(ctx context.Context, email string) (*premium.Membership, error)
	Upsert(ctx context.Context, m *premium.Membership) error
	UpdateBySubscription(ctx context.Context, subscriptionID, status string, validUntil time.Time) (bool, error)
}

type InboxStore interface {
	Insert(ctx context.Context, email string, offerID uuid.UUID) (bool, error)
	ListUnread(ctx context.Context, email string, limit int) ([]inbox.Item, error)
	TakeUnread(ctx context.Context, email string, limit int) ([]inbox.Item, error)
}

type VerificationStore interface {
	Upsert(ctx context.Context, identity, codeHash string, expiresAt time.Time) error
	Consume(ctx context.Context, identity, codeHash string, now time.Time) (bool, error)
}

type RewardStore interface {
	Balance(ctx context.Context, email string) (int, error)
	Credit(ctx context.Context, email string, points int) (int, error)
	CreditOnce(ctx context.Context, email string, points int, ref string) (int, bool, error)
	Debit(ctx context.Context, email string, points int) (int, bool, error)
}

type AccountStore interface {
	Upsert(ctx context.Context, clerkID, email string) error
	Delete(ctx context.Context, clerkID string) error
	EmailForSubject(ctx context.Context, clerkID string) (string, error)
}

type RateGuard interface {
	CheckAndIncrement(ctx context.Context, action, identity string, limit int, window time.Duration) ratelimit.Decision
}

type Mailer interface {
	Send(ctx context.Context, msg notification.Message) error
}

type Pusher interface {
	SendPush(ctx context.Context, tokens []preference.DeviceToken, title, body string, data map[string]string) error
}
