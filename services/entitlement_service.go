package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/metrics"
	"nearGoAPI/internal/notification"
	"nearGoAPI/internal/repository"
	"nearGoAPI/internal/token"
	"nearGoAPI/internal/types/entitlement"
	"nearGoAPI/internal/types/offer"
)

type RequesterKind string

const (
	RequesterAnonymous RequesterKind = "anonymous"
	RequesterSession   RequesterKind = "session"
	RequesterScanner   RequesterKind = "scanner"
)

// Requester is whoever asks to redeem or cancel. ScannerKeyHash is set whenever a scanner key was
// presented, valid or not.
type Requester struct {
	Kind           RequesterKind
	Subject        string
	ScannerKeyHash string
	IP             string
}

func (r Requester) Authenticated() bool {
	return r.Kind == RequesterSession || r.Kind == RequesterScanner
}

// Identity is the value recorded as redeemed_by.
func (r Requester) Identity() string {
	switch r.Kind {
	case RequesterSession:
		return "session:" + r.Subject
	case RequesterScanner:
		h := r.ScannerKeyHash
		if len(h) > 12 {
			h = h[:12]
		}
		return "scanner:" + h
	default:
		return "anonymous"
	}
}

// HashScannerKey is the only form in which a scanner key is ever stored.
func HashScannerKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type EntitlementConfig struct {
	PublicBaseURL   string
	FreeCouponDaily int
}

type EntitlementService struct {
	store  EntitlementStore
	offers OfferStore
	signer *token.Signer
	guard  RateGuard
	mailer Mailer
	cfg    EntitlementConfig
	now    func() time.Time
}

func NewEntitlementService(store EntitlementStore, offers OfferStore, signer *token.Signer, guard RateGuard, mailer Mailer, cfg EntitlementConfig) *EntitlementService {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &EntitlementService{
		store:  store,
		offers: offers,
		signer: signer,
		guard:  guard,
		mailer: mailer,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *EntitlementService) RedeemURL(tok string) string {
	return s.cfg.PublicBaseURL + "/r/" + tok
}

// Issue creates a ticket or coupon. The row is stored before anything is sent; the confirmation
// email with the QR code runs as a post-commit hook. A request carrying a SourceRef that was already
// issued returns the stored entitlement and sends nothing.
func (s *EntitlementService) Issue(ctx context.Context, req entitlement.IssueRequest) (*entitlement.IssueResult, error) {
	start := time.Now()
	result, err := s.issue(ctx, req)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case result.Existing:
		status = "existing"
	}
	metrics.RecordIssue(string(req.Kind), status, time.Since(start).Seconds())
	return result, err
}

func (s *EntitlementService) issue(ctx context.Context, req entitlement.IssueRequest) (*entitlement.IssueResult, error) {
	if req.Kind != entitlement.KindTicket && req.Kind != entitlement.KindCoupon {
		return nil, apperr.Validation("invalid_kind")
	}
	req.PurchaserEmail = normalizeEmail(req.PurchaserEmail)
	if req.PurchaserEmail == "" {
		return nil, apperr.Validation("missing_email")
	}

	if req.SourceRef != "" {
		existing, err := s.store.GetBySourceRef(ctx, req.SourceRef)
		if err == nil {
			return s.existingResult(existing)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Internal(err)
		}
	}

	tok, err := s.signer.New()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	redeemURL := s.RedeemURL(tok)
	png, err := qrcode.Encode(redeemURL, qrcode.Medium, 256)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to generate QR code: %w", err))
	}

	e := &entitlement.Entitlement{
		Token:          tok,
		Kind:           req.Kind,
		Status:         entitlement.StatusIssued,
		EventID:        req.EventID,
		Benefit:        req.Benefit,
		PurchaserEmail: req.PurchaserEmail,
		IssuedAt:       s.now().UTC(),
	}
	if req.SourceRef != "" {
		ref := req.SourceRef
		e.SourceRef = &ref
	}

	if err := s.store.Insert(ctx, e); err != nil {
		if errors.Is(err, repository.ErrDuplicate) && req.SourceRef != "" {
			existing, getErr := s.store.GetBySourceRef(ctx, req.SourceRef)
			if getErr != nil {
				return nil, apperr.Internal(getErr)
			}
			return s.existingResult(existing)
		}
		return nil, apperr.Internal(err)
	}

	log.WithFields(log.Fields{
		"token": token.Short(tok),
		"kind":  e.Kind,
		"email": e.PurchaserEmail,
	}).Info("Entitlement issued")

	runPostCommit(ctx, s.issueEmailHook(e, redeemURL, png))

	return &entitlement.IssueResult{
		Entitlement:  e,
		RedeemURL:    redeemURL,
		QRCodeBase64: base64.StdEncoding.EncodeToString(png),
	}, nil
}

func (s *EntitlementService) existingResult(e *entitlement.Entitlement) (*entitlement.IssueResult, error) {
	redeemURL := s.RedeemURL(e.Token)
	png, err := qrcode.Encode(redeemURL, qrcode.Medium, 256)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to generate QR code: %w", err))
	}
	return &entitlement.IssueResult{
		Entitlement:  e,
		RedeemURL:    redeemURL,
		QRCodeBase64: base64.StdEncoding.EncodeToString(png),
		Existing:     true,
	}, nil
}

func (s *EntitlementService) issueEmailHook(e *entitlement.Entitlement, redeemURL string, png []byte) Hook {
	subject := "Your NearGo ticket"
	if e.Kind == entitlement.KindCoupon {
		subject = "Your NearGo coupon"
	}
	body := fmt.Sprintf("%s\n\nShow this code at the venue or open %s\n", e.Benefit, redeemURL)
	return Hook{
		Name: "issue_email",
		Run: func(ctx context.Context) error {
			return s.mailer.Send(ctx, notification.Message{
				To:      e.PurchaserEmail,
				Subject: subject,
				Text:    body,
				Attachments: []notification.Attachment{
					{Filename: string(e.Kind) + ".png", ContentType: "image/png", Data: png},
				},
			})
		},
	}
}

// Redeem moves an issued entitlement to redeemed exactly once. Concurrent callers that lose the
// conditional update re-read the row and report the winner's timestamp. Every attempt is audited.
func (s *EntitlementService) Redeem(ctx context.Context, req entitlement.RedeemRequest, who Requester) (*entitlement.RedeemResult, error) {
	var scope *string
	if req.EventID != "" {
		scope = &req.EventID
	}
	audit := func(outcome entitlement.Outcome) {
		s.audit(ctx, req.Token, scope, who, outcome)
	}

	if !who.Authenticated() {
		audit(entitlement.OutcomeUnauthorized)
		return nil, apperr.Unauthorized("unauthorized")
	}

	if err := s.signer.Verify(req.Token); err != nil {
		audit(entitlement.OutcomeInvalidToken)
		return nil, apperr.NotFound("not_found")
	}

	e, err := s.store.GetByToken(ctx, req.Token)
	if errors.Is(err, repository.ErrNotFound) {
		audit(entitlement.OutcomeNotFound)
		return nil, apperr.NotFound("not_found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if scope != nil && (e.EventID == nil || *e.EventID != *scope) {
		audit(entitlement.OutcomeWrongEvent)
		return nil, apperr.Forbidden("wrong_event")
	}

	if e.Status == entitlement.StatusIssued {
		redeemedAt, ok, err := s.store.MarkRedeemed(ctx, e.Token, who.Identity())
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if ok {
			audit(entitlement.OutcomeRedeemed)
			log.WithFields(log.Fields{"token": token.Short(e.Token), "by": who.Identity()}).Info("Entitlement redeemed")
			return &entitlement.RedeemResult{Status: entitlement.StatusRedeemed, RedeemedAt: redeemedAt}, nil
		}
		// Lost the race to another scanner.
		if e, err = s.store.GetByToken(ctx, req.Token); err != nil {
			return nil, apperr.Internal(err)
		}
	}

	switch e.Status {
	case entitlement.StatusRedeemed:
		audit(entitlement.OutcomeAlreadyRedeemed)
		res := &entitlement.RedeemResult{Status: entitlement.StatusRedeemed, AlreadyRedeemed: true}
		if e.RedeemedAt != nil {
			res.RedeemedAt = *e.RedeemedAt
		}
		return res, nil
	case entitlement.StatusCancelled:
		audit(entitlement.OutcomeCancelled)
		return nil, apperr.Conflict("cancelled")
	default:
		return nil, apperr.Internal(fmt.Errorf("entitlement %s left in status %q after redeem", token.Short(e.Token), e.Status))
	}
}

// Cancel voids an issued entitlement. Only scanner devices may cancel and redeemed entitlements
// cannot be cancelled.
func (s *EntitlementService) Cancel(ctx context.Context, tok string, who Requester) (*entitlement.Entitlement, error) {
	if who.Kind != RequesterScanner {
		s.audit(ctx, tok, nil, who, entitlement.OutcomeUnauthorized)
		return nil, apperr.Unauthorized("unauthorized")
	}
	if err := s.signer.Verify(tok); err != nil {
		s.audit(ctx, tok, nil, who, entitlement.OutcomeInvalidToken)
		return nil, apperr.NotFound("not_found")
	}

	e, err := s.store.GetByToken(ctx, tok)
	if errors.Is(err, repository.ErrNotFound) {
		s.audit(ctx, tok, nil, who, entitlement.OutcomeNotFound)
		return nil, apperr.NotFound("not_found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if e.Status == entitlement.StatusIssued {
		cancelledAt, ok, err := s.store.MarkCancelled(ctx, tok)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if ok {
			e.Status = entitlement.StatusCancelled
			e.CancelledAt = &cancelledAt
			s.audit(ctx, tok, nil, who, entitlement.OutcomeCancelRequested)
			return e, nil
		}
		if e, err = s.store.GetByToken(ctx, tok); err != nil {
			return nil, apperr.Internal(err)
		}
	}

	switch e.Status {
	case entitlement.StatusCancelled:
		return e, nil
	case entitlement.StatusRedeemed:
		s.audit(ctx, tok, nil, who, entitlement.OutcomeAlreadyRedeemed)
		return nil, apperr.Conflict("already_redeemed")
	default:
		return nil, apperr.Internal(fmt.Errorf("entitlement %s left in status %q after cancel", token.Short(tok), e.Status))
	}
}

// Lookup returns the current state of an entitlement. Knowing the token is the authorization.
func (s *EntitlementService) Lookup(ctx context.Context, tok string) (*entitlement.Entitlement, error) {
	if err := s.signer.Verify(tok); err != nil {
		return nil, apperr.NotFound("not_found")
	}
	e, err := s.store.GetByToken(ctx, tok)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("not_found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return e, nil
}

// IssueFreeCoupon hands out a published free coupon offer, capped per email per day.
func (s *EntitlementService) IssueFreeCoupon(ctx context.Context, req entitlement.FreeCouponRequest) (*entitlement.IssueResult, error) {
	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		return nil, apperr.Validation("invalid_offer_id")
	}
	o, err := s.offers.Get(ctx, offerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("offer_not_found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if o.Kind != offer.KindCoupon || o.PriceCents > 0 || s.now().Before(o.PublishAt) {
		return nil, apperr.NotFound("offer_not_found")
	}

	email := normalizeEmail(req.Email)
	d := s.guard.CheckAndIncrement(ctx, "free_coupon", email, s.cfg.FreeCouponDaily, 24*time.Hour)
	if !d.Allowed {
		return nil, apperr.RateLimited(d.RetryAfter)
	}

	benefit := o.Benefit
	if benefit == "" {
		benefit = o.Title
	}
	eventID := o.ID.String()
	return s.Issue(ctx, entitlement.IssueRequest{
		Kind:           entitlement.KindCoupon,
		Benefit:        benefit,
		PurchaserEmail: email,
		EventID:        &eventID,
	})
}

func (s *EntitlementService) audit(ctx context.Context, tok string, eventID *string, who Requester, outcome entitlement.Outcome) {
	metrics.RecordRedemption(string(outcome))
	kind := who.Kind
	if kind == "" {
		kind = RequesterAnonymous
	}
	a := &entitlement.ScanAudit{
		Token:            truncate(tok, 128),
		EventID:          eventID,
		RequesterKind:    string(kind),
		RequesterSubject: who.Subject,
		RequesterIP:      who.IP,
		ScannerKeyHash:   who.ScannerKeyHash,
		Outcome:          outcome,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, a); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"token":   token.Short(tok),
			"outcome": outcome,
		}).Error("Failed to write scan audit")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
