package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nearGoAPI/internal/notification"
	"nearGoAPI/internal/ratelimit"
	"nearGoAPI/internal/repository"
	"nearGoAPI/internal/types/entitlement"
	"nearGoAPI/internal/types/inbox"
	"nearGoAPI/internal/types/offer"
	"nearGoAPI/internal/types/preference"
	"nearGoAPI/internal/types/premium"
)

type fakeEntitlements struct {
	mu     sync.Mutex
	rows   map[string]*entitlement.Entitlement
	audits []entitlement.ScanAudit
	now    func() time.Time

	insertErr error
}

func newFakeEntitlements() *fakeEntitlements {
	return &fakeEntitlements{rows: make(map[string]*entitlement.Entitlement), now: time.Now}
}

func (f *fakeEntitlements) Insert(_ context.Context, e *entitlement.Entitlement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if e.SourceRef != nil {
		for _, r := range f.rows {
			if r.SourceRef != nil && *r.SourceRef == *e.SourceRef {
				return repository.ErrDuplicate
			}
		}
	}
	cp := *e
	f.rows[e.Token] = &cp
	return nil
}

func (f *fakeEntitlements) GetByToken(_ context.Context, tok string) (*entitlement.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[tok]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeEntitlements) GetBySourceRef(_ context.Context, ref string) (*entitlement.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.SourceRef != nil && *r.SourceRef == ref {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeEntitlements) MarkRedeemed(_ context.Context, tok, by string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[tok]
	if !ok || r.Status != entitlement.StatusIssued {
		return time.Time{}, false, nil
	}
	at := f.now().UTC()
	r.Status = entitlement.StatusRedeemed
	r.RedeemedAt = &at
	r.RedeemedBy = &by
	return at, true, nil
}

func (f *fakeEntitlements) MarkCancelled(_ context.Context, tok string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[tok]
	if !ok || r.Status != entitlement.StatusIssued {
		return time.Time{}, false, nil
	}
	at := f.now().UTC()
	r.Status = entitlement.StatusCancelled
	r.CancelledAt = &at
	return at, true, nil
}

func (f *fakeEntitlements) AppendAudit(_ context.Context, a *entitlement.ScanAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, *a)
	return nil
}

func (f *fakeEntitlements) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeEntitlements) outcomes() []entitlement.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entitlement.Outcome, 0, len(f.audits))
	for _, a := range f.audits {
		out = append(out, a.Outcome)
	}
	return out
}

type fakeOffers struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*offer.Offer
}

func newFakeOffers(offers ...offer.Offer) *fakeOffers {
	f := &fakeOffers{rows: make(map[uuid.UUID]*offer.Offer)}
	for i := range offers {
		o := offers[i]
		f.rows[o.ID] = &o
	}
	return f
}

func (f *fakeOffers) Create(_ context.Context, o *offer.Offer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.rows[o.ID] = &cp
	return nil
}

func (f *fakeOffers) Update(_ context.Context, o *offer.Offer, subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[o.ID]
	if !ok || cur.ProviderSubject != subject {
		return repository.ErrNotFound
	}
	notified := cur.EarlyNotifiedAt
	if !cur.PublishAt.Equal(o.PublishAt) {
		notified = nil
	}
	cp := *o
	cp.ProviderSubject = subject
	cp.CreatedAt = cur.CreatedAt
	cp.EarlyNotifiedAt = notified
	f.rows[o.ID] = &cp
	*o = cp
	return nil
}

func (f *fakeOffers) Get(_ context.Context, id uuid.UUID) (*offer.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOffers) SearchPublished(_ context.Context, q offer.SearchQuery, now time.Time, limit int) ([]offer.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []offer.Offer
	for _, o := range f.rows {
		if o.PublishAt.After(now) {
			continue
		}
		if q.Subcategory != "" && o.Subcategory != q.Subcategory {
			continue
		}
		if q.Text != "" && !strings.Contains(strings.ToLower(o.Title), strings.ToLower(q.Text)) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishAt.After(out[j].PublishAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOffers) ListPublishingBetween(_ context.Context, from, to time.Time, categories []string) ([]offer.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []offer.Offer
	for _, o := range f.rows {
		if o.PublishAt.After(from) && !o.PublishAt.After(to) && contains(categories, o.Subcategory) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOffers) ClaimEarlyWindow(_ context.Context, now time.Time, window time.Duration) ([]offer.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []offer.Offer
	for _, o := range f.rows {
		if o.EarlyNotifiedAt == nil && o.PublishAt.After(now) && !o.PublishAt.After(now.Add(window)) {
			at := now
			o.EarlyNotifiedAt = &at
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOffers) ClaimOffer(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[id]
	if !ok || o.EarlyNotifiedAt != nil {
		return false, nil
	}
	now := time.Now()
	o.EarlyNotifiedAt = &now
	return true, nil
}

func (f *fakeOffers) ReleaseClaim(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.rows[id]; ok {
		o.EarlyNotifiedAt = nil
	}
	return nil
}

type fakePreferences struct {
	mu      sync.Mutex
	rows    map[string]*preference.Preference
	premium *fakePremium
	// listFailures makes the next n ListPremiumByCategory calls fail.
	listFailures int
}

func newFakePreferences(premium *fakePremium) *fakePreferences {
	return &fakePreferences{rows: make(map[string]*preference.Preference), premium: premium}
}

func (f *fakePreferences) Get(_ context.Context, email string) (*preference.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePreferences) Upsert(_ context.Context, p *preference.Preference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.rows[p.Email] = &cp
	return nil
}

func (f *fakePreferences) ListPremiumByCategory(ctx context.Context, category string, now time.Time) ([]preference.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listFailures > 0 {
		f.listFailures--
		return nil, errors.New("connection reset")
	}
	var out []preference.Preference
	for _, p := range f.rows {
		if !contains(p.Categories, category) {
			continue
		}
		m, err := f.premium.Get(ctx, p.Email)
		if err != nil || !m.Active(now) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

type fakePremium struct {
	mu   sync.Mutex
	rows map[string]*premium.Membership
}

func newFakePremium() *fakePremium {
	return &fakePremium{rows: make(map[string]*premium.Membership)}
}

func (f *fakePremium) activate(email string, until time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[email] = &premium.Membership{Email: email, Status: "active", ValidUntil: until}
}

func (f *fakePremium) Get(_ context.Context, email string) (*premium.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakePremium) Upsert(_ context.Context, m *premium.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.rows[m.Email] = &cp
	return nil
}

func (f *fakePremium) UpdateBySubscription(_ context.Context, subID, status string, validUntil time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.rows {
		if m.StripeSubscriptionID == subID {
			m.Status = status
			if !validUntil.IsZero() {
				m.ValidUntil = validUntil
			}
			return true, nil
		}
	}
	return false, nil
}

type fakeInbox struct {
	mu    sync.Mutex
	items []inbox.Item
}

func (f *fakeInbox) Insert(_ context.Context, email string, offerID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.Email == email && it.OfferID == offerID {
			return false, nil
		}
	}
	f.items = append(f.items, inbox.Item{ID: uuid.New(), Email: email, OfferID: offerID, CreatedAt: time.Now()})
	return true, nil
}

func (f *fakeInbox) ListUnread(_ context.Context, email string, limit int) ([]inbox.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []inbox.Item{}
	for _, it := range f.items {
		if it.Email == email && it.ReadAt == nil && len(out) < limit {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeInbox) TakeUnread(_ context.Context, email string, limit int) ([]inbox.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []inbox.Item{}
	now := time.Now()
	for i := range f.items {
		it := &f.items[i]
		if it.Email == email && it.ReadAt == nil && len(out) < limit {
			it.ReadAt = &now
			out = append(out, *it)
		}
	}
	return out, nil
}

type fakeCodes struct {
	mu   sync.Mutex
	rows map[string]struct {
		hash     string
		expires  time.Time
		consumed bool
	}
}

func newFakeCodes() *fakeCodes {
	return &fakeCodes{rows: make(map[string]struct {
		hash     string
		expires  time.Time
		consumed bool
	})}
}

func (f *fakeCodes) Upsert(_ context.Context, identity, hash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[identity]
	r.hash, r.expires, r.consumed = hash, expiresAt, false
	f.rows[identity] = r
	return nil
}

func (f *fakeCodes) Consume(_ context.Context, identity, hash string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[identity]
	if !ok || r.consumed || r.hash != hash || !now.Before(r.expires) {
		return false, nil
	}
	r.consumed = true
	f.rows[identity] = r
	return true, nil
}

type fakeRewards struct {
	mu      sync.Mutex
	points  map[string]int
	credits map[string]bool
}

func newFakeRewards() *fakeRewards {
	return &fakeRewards{points: make(map[string]int), credits: make(map[string]bool)}
}

func (f *fakeRewards) CreditOnce(_ context.Context, email string, n int, ref string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credits[ref] {
		return f.points[email], false, nil
	}
	f.credits[ref] = true
	f.points[email] += n
	return f.points[email], true, nil
}

func (f *fakeRewards) Balance(_ context.Context, email string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.points[email], nil
}

func (f *fakeRewards) Credit(_ context.Context, email string, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[email] += n
	return f.points[email], nil
}

func (f *fakeRewards) Debit(_ context.Context, email string, n int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[email] < n {
		return 0, false, nil
	}
	f.points[email] -= n
	return f.points[email], true, nil
}

type fakeAccounts struct {
	mu   sync.Mutex
	rows map[string]string
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{rows: make(map[string]string)}
}

func (f *fakeAccounts) Upsert(_ context.Context, clerkID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[clerkID] = email
	return nil
}

func (f *fakeAccounts) Delete(_ context.Context, clerkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, clerkID)
	return nil
}

func (f *fakeAccounts) EmailForSubject(_ context.Context, clerkID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.rows[clerkID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return email, nil
}

// memoryCounters is a ratelimit.Store kept in a map.
type memoryCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

func newGuard() *ratelimit.Guard {
	return ratelimit.NewGuard(&memoryCounters{counts: make(map[string]int)})
}

func (m *memoryCounters) Increment(_ context.Context, key string, limit int, _ time.Time) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counts[key]
	if c >= limit {
		return c, false, nil
	}
	m.counts[key] = c + 1
	return c + 1, true, nil
}

type recordingMailer struct {
	mu     sync.Mutex
	sent   []notification.Message
	err    error
	onSend func()
}

func (m *recordingMailer) Send(_ context.Context, msg notification.Message) error {
	if m.onSend != nil {
		m.onSend()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []notification.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification.Message(nil), m.sent...)
}

type recordingPusher struct {
	mu     sync.Mutex
	titles []string
}

func (p *recordingPusher) SendPush(_ context.Context, tokens []preference.DeviceToken, title, _ string, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(tokens) == 0 {
		return errors.New("no tokens")
	}
	p.titles = append(p.titles, title)
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }
