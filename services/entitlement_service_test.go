package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/token"
	"nearGoAPI/internal/types/entitlement"
	"nearGoAPI/internal/types/offer"
)

type entitlementFixture struct {
	svc    *EntitlementService
	store  *fakeEntitlements
	offers *fakeOffers
	mailer *recordingMailer
	signer *token.Signer
}

func newEntitlementFixture(t *testing.T, offers ...offer.Offer) *entitlementFixture {
	t.Helper()
	signer, err := token.NewSigner("test-signing-secret-0123456789")
	require.NoError(t, err)

	f := &entitlementFixture{
		store:  newFakeEntitlements(),
		offers: newFakeOffers(offers...),
		mailer: &recordingMailer{},
		signer: signer,
	}
	f.svc = NewEntitlementService(f.store, f.offers, signer, newGuard(), f.mailer, EntitlementConfig{
		PublicBaseURL:   "https://neargo.test/",
		FreeCouponDaily: 1,
	})
	return f
}

func (f *entitlementFixture) issueTicket(t *testing.T, eventID string) *entitlement.IssueResult {
	t.Helper()
	res, err := f.svc.Issue(context.Background(), entitlement.IssueRequest{
		Kind:           entitlement.KindTicket,
		Benefit:        "Concert entry",
		PurchaserEmail: "Buyer@Example.com",
		EventID:        &eventID,
	})
	require.NoError(t, err)
	return res
}

var scanner = Requester{Kind: RequesterScanner, ScannerKeyHash: HashScannerKey("door-key"), IP: "10.0.0.7"}

func TestIssuePersistsBeforeEmail(t *testing.T) {
	f := newEntitlementFixture(t)
	f.mailer.onSend = func() {
		assert.Equal(t, 1, f.store.count(), "row must be stored before the email goes out")
	}

	res := f.issueTicket(t, "evt-1")

	assert.True(t, strings.HasPrefix(res.Entitlement.Token, token.Prefix))
	assert.Equal(t, "https://neargo.test/r/"+res.Entitlement.Token, res.RedeemURL)
	assert.NotEmpty(t, res.QRCodeBase64)
	assert.Equal(t, "buyer@example.com", res.Entitlement.PurchaserEmail)
	assert.Equal(t, entitlement.StatusIssued, res.Entitlement.Status)

	msgs := f.mailer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "buyer@example.com", msgs[0].To)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "image/png", msgs[0].Attachments[0].ContentType)
}

func TestIssueEmailFailureKeepsEntitlement(t *testing.T) {
	f := newEntitlementFixture(t)
	f.mailer.err = errors.New("smtp down")

	res := f.issueTicket(t, "evt-1")

	stored, err := f.store.GetByToken(context.Background(), res.Entitlement.Token)
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusIssued, stored.Status)
}

func TestIssueWithSameSourceRefReturnsExisting(t *testing.T) {
	f := newEntitlementFixture(t)
	req := entitlement.IssueRequest{
		Kind:           entitlement.KindTicket,
		Benefit:        "Concert entry",
		PurchaserEmail: "a@example.com",
		SourceRef:      "cs_test_123",
	}

	first, err := f.svc.Issue(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Issue(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.Existing)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Entitlement.Token, second.Entitlement.Token)
	assert.Equal(t, 1, f.store.count())
	assert.Len(t, f.mailer.messages(), 1)
}

func TestIssueRejectsUnknownKind(t *testing.T) {
	f := newEntitlementFixture(t)
	_, err := f.svc.Issue(context.Background(), entitlement.IssueRequest{Kind: "voucher", PurchaserEmail: "a@example.com"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Zero(t, f.store.count())
}

func TestRedeemOnceUnderConcurrency(t *testing.T) {
	f := newEntitlementFixture(t)
	tok := f.issueTicket(t, "evt-1").Entitlement.Token

	const n = 25
	results := make([]*entitlement.RedeemResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Redeem(context.Background(), entitlement.RedeemRequest{Token: tok}, scanner)
		}(i)
	}
	wg.Wait()

	winners := 0
	var redeemedAt time.Time
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if !results[i].AlreadyRedeemed {
			winners++
			redeemedAt = results[i].RedeemedAt
		}
	}
	require.Equal(t, 1, winners)
	for i := 0; i < n; i++ {
		assert.Equal(t, entitlement.StatusRedeemed, results[i].Status)
		assert.True(t, redeemedAt.Equal(results[i].RedeemedAt))
	}
}

func TestRedeemRepeatedReturnsSameTimestamp(t *testing.T) {
	f := newEntitlementFixture(t)
	tok := f.issueTicket(t, "evt-1").Entitlement.Token
	ctx := context.Background()

	first, err := f.svc.Redeem(ctx, entitlement.RedeemRequest{Token: tok}, scanner)
	require.NoError(t, err)
	assert.False(t, first.AlreadyRedeemed)

	for i := 0; i < 3; i++ {
		again, err := f.svc.Redeem(ctx, entitlement.RedeemRequest{Token: tok}, scanner)
		require.NoError(t, err)
		assert.True(t, again.AlreadyRedeemed)
		assert.True(t, first.RedeemedAt.Equal(again.RedeemedAt))
	}

	assert.Equal(t, []entitlement.Outcome{
		entitlement.OutcomeRedeemed,
		entitlement.OutcomeAlreadyRedeemed,
		entitlement.OutcomeAlreadyRedeemed,
		entitlement.OutcomeAlreadyRedeemed,
	}, f.store.outcomes())
}

func TestRedeemRequiresCredentialBeforeLookup(t *testing.T) {
	f := newEntitlementFixture(t)
	tok := f.issueTicket(t, "evt-1").Entitlement.Token

	anon := Requester{Kind: RequesterAnonymous, IP: "1.2.3.4", ScannerKeyHash: HashScannerKey("wrong")}
	_, err := f.svc.Redeem(context.Background(), entitlement.RedeemRequest{Token: tok}, anon)

	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, []entitlement.Outcome{entitlement.OutcomeUnauthorized}, f.store.outcomes())
	stored, _ := f.store.GetByToken(context.Background(), tok)
	assert.Equal(t, entitlement.StatusIssued, stored.Status)
}

func TestRedeemTamperedTokenIsNotFound(t *testing.T) {
	f := newEntitlementFixture(t)
	tok := f.issueTicket(t, "evt-1").Entitlement.Token
	i := len(token.Prefix) + 3
	swap := byte('A')
	if tok[i] == swap {
		swap = 'B'
	}
	tampered := tok[:i] + string(swap) + tok[i+1:]

	_, err := f.svc.Redeem(context.Background(), entitlement.RedeemRequest{Token: tampered}, scanner)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, []entitlement.Outcome{entitlement.OutcomeInvalidToken}, f.store.outcomes())
}

func TestRedeemUnknownTokenIsNotFound(t *testing.T) {
	f := newEntitlementFixture(t)
	tok, err := f.signer.New()
	require.NoError(t, err)

	_, err = f.svc.Redeem(context.Background(), entitlement.RedeemRequest{Token: tok}, scanner)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, []entitlement.Outcome{entitlement.OutcomeNotFound}, f.store.outcomes())
}

func TestRedeemWrongEventIsForbidden(t *testing.T) {
	f := newEntitlementFixture(t)
	tok := f.issueTicket(t, "evt-1").Entitlement.Token

	_, err := f.svc.Redeem(context.Background(), entitlement.RedeemRequest{Token: tok, EventID: "evt-2"}, scanner)

	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, "wrong_event", apperr.As(err).Code)
	stored, _ := f.store.GetByToken(context.Background(), tok)
	assert.Equal(t, entitlement.StatusIssued, stored.Status)

	res, err := f.svc.Redeem(context.Background(), entitlement.RedeemRequest{Token: tok, EventID: "evt-1"}, scanner)
	require.NoError(t, err)
	assert.False(t, res.AlreadyRedeemed)
}

func TestRedeemCancelledIsConflict(t *testing.T) {
	f := newEntitlementFixture(t)
	tok := f.issueTicket(t, "evt-1").Entitlement.Token
	_, err := f.svc.Cancel(context.Background(), tok, scanner)
	require.NoError(t, err)

	_, err = f.svc.Redeem(context.Background(), entitlement.RedeemRequest{Token: tok}, scanner)

	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "cancelled", apperr.As(err).Code)
}

func TestAuditStoresHashedScannerKeyOnly(t *testing.T) {
	f := newEntitlementFixture(t)
	tok := f.issueTicket(t, "evt-1").Entitlement.Token

	_, err := f.svc.Redeem(context.Background(), entitlement.RedeemRequest{Token: tok}, scanner)
	require.NoError(t, err)

	require.Len(t, f.store.audits, 1)
	a := f.store.audits[0]
	assert.Equal(t, HashScannerKey("door-key"), a.ScannerKeyHash)
	assert.NotContains(t, a.ScannerKeyHash, "door-key")
	assert.Equal(t, "10.0.0.7", a.RequesterIP)
	assert.Equal(t, "scanner", a.RequesterKind)

	stored, _ := f.store.GetByToken(context.Background(), tok)
	require.NotNil(t, stored.RedeemedBy)
	assert.Equal(t, "scanner:"+HashScannerKey("door-key")[:12], *stored.RedeemedBy)
}

func TestSessionRequesterCanRedeem(t *testing.T) {
	f := newEntitlementFixture(t)
	tok := f.issueTicket(t, "evt-1").Entitlement.Token

	res, err := f.svc.Redeem(context.Background(), entitlement.RedeemRequest{Token: tok},
		Requester{Kind: RequesterSession, Subject: "user_staff"})
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusRedeemed, res.Status)
}

func TestCancelRules(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	tok := f.issueTicket(t, "evt-1").Entitlement.Token

	_, err := f.svc.Cancel(ctx, tok, Requester{Kind: RequesterSession, Subject: "user_1"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	e, err := f.svc.Cancel(ctx, tok, scanner)
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusCancelled, e.Status)

	again, err := f.svc.Cancel(ctx, tok, scanner)
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusCancelled, again.Status)

	redeemed := f.issueTicket(t, "evt-1").Entitlement.Token
	_, err = f.svc.Redeem(ctx, entitlement.RedeemRequest{Token: redeemed}, scanner)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, redeemed, scanner)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestLookup(t *testing.T) {
	f := newEntitlementFixture(t)
	tok := f.issueTicket(t, "evt-1").Entitlement.Token

	e, err := f.svc.Lookup(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusIssued, e.Status)

	_, err = f.svc.Lookup(context.Background(), "ngt_nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestFreeCouponCappedPerEmailPerDay(t *testing.T) {
	coupon := offer.Offer{
		ID:        uuid.New(),
		Kind:      offer.KindCoupon,
		Title:     "Free espresso",
		Benefit:   "1x espresso",
		PublishAt: time.Now().Add(-time.Hour),
	}
	f := newEntitlementFixture(t, coupon)
	ctx := context.Background()
	req := entitlement.FreeCouponRequest{Email: "a@example.com", OfferID: coupon.ID.String()}

	res, err := f.svc.IssueFreeCoupon(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, entitlement.KindCoupon, res.Entitlement.Kind)
	assert.Equal(t, "1x espresso", res.Entitlement.Benefit)

	_, err = f.svc.IssueFreeCoupon(ctx, entitlement.FreeCouponRequest{Email: "A@example.com ", OfferID: coupon.ID.String()})
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	assert.Positive(t, apperr.As(err).RetryAfter)
	assert.Equal(t, 1, f.store.count())
}

func TestFreeCouponRejectsUnpublishedOrPaidOffers(t *testing.T) {
	future := offer.Offer{ID: uuid.New(), Kind: offer.KindCoupon, PublishAt: time.Now().Add(time.Hour)}
	paid := offer.Offer{ID: uuid.New(), Kind: offer.KindCoupon, PriceCents: 500, PublishAt: time.Now().Add(-time.Hour)}
	f := newEntitlementFixture(t, future, paid)

	for _, o := range []offer.Offer{future, paid} {
		_, err := f.svc.IssueFreeCoupon(context.Background(), entitlement.FreeCouponRequest{Email: "a@example.com", OfferID: o.ID.String()})
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	}
}
