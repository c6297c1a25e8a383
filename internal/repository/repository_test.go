package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearGoAPI/internal/migrations"
	"nearGoAPI/internal/types/entitlement"
	"nearGoAPI/internal/types/offer"
)

// setupTestDB connects to TEST_DATABASE_URL and applies migrations. Tests are skipped without it.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, migrations.Up(dbURL))

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err, "failed to connect to test database")
	require.NoError(t, pool.Ping(ctx), "failed to ping test database")

	t.Cleanup(pool.Close)
	return pool
}

func newTestEntitlement(sourceRef *string) *entitlement.Entitlement {
	return &entitlement.Entitlement{
		Token:          "ng1.test-" + uuid.NewString(),
		Kind:           entitlement.KindTicket,
		Status:         entitlement.StatusIssued,
		Benefit:        "Entry",
		PurchaserEmail: "test@example.com",
		SourceRef:      sourceRef,
		IssuedAt:       time.Now().UTC(),
	}
}

func TestMarkRedeemedOnceUnderConcurrency(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewEntitlementRepository(pool)
	ctx := context.Background()

	e := newTestEntitlement(nil)
	require.NoError(t, repo.Insert(ctx, e))

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.MarkRedeemed(ctx, e.Token, "scanner:test")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, err := repo.GetByToken(ctx, e.Token)
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusRedeemed, got.Status)
	require.NotNil(t, got.RedeemedAt)

	_, ok, err := repo.MarkCancelled(ctx, e.Token)
	require.NoError(t, err)
	assert.False(t, ok, "redeemed entitlements cannot be cancelled")
}

func TestInsertDuplicateSourceRef(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewEntitlementRepository(pool)
	ctx := context.Background()

	ref := "cs_test_" + uuid.NewString()
	require.NoError(t, repo.Insert(ctx, newTestEntitlement(&ref)))
	assert.ErrorIs(t, repo.Insert(ctx, newTestEntitlement(&ref)), ErrDuplicate)

	_, err := repo.GetByToken(ctx, "ng1.missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRateCounterStopsAtLimit(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewRateCounterRepository(pool)
	ctx := context.Background()
	key := "test:" + uuid.NewString() + ":1"
	expires := time.Now().Add(time.Hour)

	for i := 1; i <= 5; i++ {
		count, ok, err := repo.Increment(ctx, key, 5, expires)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i, count)
	}
	count, ok, err := repo.Increment(ctx, key, 5, expires)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, count)
}

func TestClaimEarlyWindowClaimsOnce(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewOfferRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	o := &offer.Offer{
		ID:              uuid.New(),
		ProviderSubject: "user_test",
		Kind:            offer.KindEvent,
		Title:           "Test concert",
		Subcategory:     "test-" + uuid.NewString()[:8],
		Currency:        "eur",
		PublishAt:       now.Add(10 * time.Minute),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repo.Create(ctx, o))

	claimed, err := repo.ClaimEarlyWindow(ctx, now, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, containsOffer(claimed, o.ID))

	claimed, err = repo.ClaimEarlyWindow(ctx, now, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, containsOffer(claimed, o.ID))

	ok, err := repo.ClaimOffer(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.ReleaseClaim(ctx, o.ID))
	claimed, err = repo.ClaimEarlyWindow(ctx, now, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, containsOffer(claimed, o.ID))
}

func containsOffer(offers []offer.Offer, id uuid.UUID) bool {
	for _, o := range offers {
		if o.ID == id {
			return true
		}
	}
	return false
}

func TestContainsPatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, "", containsPattern(""))
	assert.Equal(t, "%jazz%", containsPattern("jazz"))
	assert.Equal(t, `%100\%%`, containsPattern("100%"))
	assert.Equal(t, `%a\_b%`, containsPattern("a_b"))
	assert.Equal(t, `%c:\\d%`, containsPattern(`c:\d`))
}

func TestSearchPublishedTreatsWildcardsLiterally(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewOfferRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	sub := "test-" + uuid.NewString()[:8]

	for _, title := range []string{"1000 drinks", "100% off"} {
		require.NoError(t, repo.Create(ctx, &offer.Offer{
			ID:              uuid.New(),
			ProviderSubject: "user_test",
			Kind:            offer.KindCoupon,
			Title:           title,
			Subcategory:     sub,
			Currency:        "eur",
			PublishAt:       now.Add(-time.Hour),
			CreatedAt:       now,
			UpdatedAt:       now,
		}))
	}

	found, err := repo.SearchPublished(ctx, offer.SearchQuery{Text: "100%", Subcategory: sub}, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "100% off", found[0].Title)
}

func TestCreditOnceAppliesEachRefOnce(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewRewardRepository(pool)
	ctx := context.Background()
	email := uuid.NewString() + "@example.com"
	ref := "stripe:cs_" + uuid.NewString()

	balance, applied, err := repo.CreditOnce(ctx, email, 25, ref)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 25, balance)

	balance, applied, err = repo.CreditOnce(ctx, email, 25, ref)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 25, balance)
}
