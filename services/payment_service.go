package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/repository"
	"nearGoAPI/internal/types/entitlement"
	"nearGoAPI/internal/types/offer"
	"nearGoAPI/internal/types/premium"
)

const (
	purposeTicket  = "ticket"
	purposePremium = "premium"
)

// StripeAPI is the subset of the Stripe client the payment flow calls.
type StripeAPI interface {
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetSubscription(id string) (*stripe.Subscription, error)
}

type stripeClient struct {
	api *client.API
}

// NewStripeClient builds a client bound to secretKey instead of the package-level stripe.Key.
func NewStripeClient(secretKey string) StripeAPI {
	return &stripeClient{api: client.New(secretKey, nil)}
}

func (c *stripeClient) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.New(params)
}

func (c *stripeClient) GetSubscription(id string) (*stripe.Subscription, error) {
	return c.api.Subscriptions.Get(id, nil)
}

type PaymentConfig struct {
	PremiumPriceID string
	SuccessURL     string
	CancelURL      string
}

type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type PaymentService struct {
	stripe  StripeAPI
	offers  OfferStore
	premium PremiumStore
	issuer  Issuer
	rewards *RewardsService
	cfg     PaymentConfig
	now     func() time.Time
}

// NewPaymentService wires checkout and webhook handling. api may be nil when Stripe is not configured.
func NewPaymentService(api StripeAPI, offers OfferStore, premium PremiumStore, issuer Issuer, rewards *RewardsService, cfg PaymentConfig) *PaymentService {
	return &PaymentService{
		stripe:  api,
		offers:  offers,
		premium: premium,
		issuer:  issuer,
		rewards: rewards,
		cfg:     cfg,
		now:     time.Now,
	}
}

// CreateCheckout starts a one-off payment for a ticket to a published, paid event.
func (s *PaymentService) CreateCheckout(ctx context.Context, email string, offerID uuid.UUID) (*CheckoutResult, error) {
	if s.stripe == nil {
		return nil, apperr.Upstream("payments_disabled", errors.New("stripe not configured"))
	}
	o, err := s.offers.Get(ctx, offerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("offer_not_found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if o.Kind != offer.KindEvent || o.PriceCents <= 0 || s.now().Before(o.PublishAt) {
		return nil, apperr.Validation("offer_not_purchasable")
	}

	email = normalizeEmail(email)
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(o.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(o.Title),
					},
					UnitAmount: stripe.Int64(o.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		CustomerEmail: stripe.String(email),
		SuccessURL:    stripe.String(s.cfg.SuccessURL),
		CancelURL:     stripe.String(s.cfg.CancelURL),
	}
	params.AddMetadata("purpose", purposeTicket)
	params.AddMetadata("offer_id", o.ID.String())
	params.AddMetadata("email", email)

	sess, err := s.stripe.NewCheckoutSession(params)
	if err != nil {
		return nil, apperr.Upstream("stripe_error", err)
	}
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreatePremiumCheckout starts the premium subscription checkout.
func (s *PaymentService) CreatePremiumCheckout(ctx context.Context, email string) (*CheckoutResult, error) {
	if s.stripe == nil || s.cfg.PremiumPriceID == "" {
		return nil, apperr.Upstream("payments_disabled", errors.New("stripe premium price not configured"))
	}
	email = normalizeEmail(email)
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.cfg.PremiumPriceID), Quantity: stripe.Int64(1)},
		},
		CustomerEmail: stripe.String(email),
		SuccessURL:    stripe.String(s.cfg.SuccessURL),
		CancelURL:     stripe.String(s.cfg.CancelURL),
	}
	params.AddMetadata("purpose", purposePremium)
	params.AddMetadata("email", email)

	sess, err := s.stripe.NewCheckoutSession(params)
	if err != nil {
		return nil, apperr.Upstream("stripe_error", err)
	}
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// HandleEvent applies a verified Stripe event. Handling is idempotent: Stripe retries a delivery
// until it is acknowledged.
func (s *PaymentService) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return apperr.Wrap(apperr.KindValidation, "invalid_payload", err)
		}
		return s.handleCheckoutCompleted(ctx, &sess)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return apperr.Wrap(apperr.KindValidation, "invalid_payload", err)
		}
		return s.applySubscription(ctx, &sub)

	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return apperr.Wrap(apperr.KindValidation, "invalid_payload", err)
		}
		if invoice.Subscription == nil || s.stripe == nil {
			return nil
		}
		sub, err := s.stripe.GetSubscription(invoice.Subscription.ID)
		if err != nil {
			return apperr.Upstream("stripe_error", err)
		}
		return s.applySubscription(ctx, sub)

	default:
		log.WithField("type", event.Type).Debug("Unhandled Stripe event")
		return nil
	}
}

func (s *PaymentService) handleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	email := normalizeEmail(sess.Metadata["email"])
	if email == "" && sess.CustomerDetails != nil {
		email = normalizeEmail(sess.CustomerDetails.Email)
	}
	if email == "" {
		return apperr.Wrap(apperr.KindValidation, "missing_email", fmt.Errorf("checkout session %s has no email", sess.ID))
	}

	switch sess.Metadata["purpose"] {
	case purposeTicket:
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			log.WithField("session", sess.ID).Info("Checkout completed without payment, ticket not issued")
			return nil
		}
		return s.issueTicket(ctx, sess, email)

	case purposePremium:
		if sess.Subscription == nil {
			return apperr.Wrap(apperr.KindValidation, "missing_subscription", fmt.Errorf("session %s", sess.ID))
		}
		if s.stripe == nil {
			return apperr.Upstream("payments_disabled", errors.New("stripe not configured"))
		}
		sub, err := s.stripe.GetSubscription(sess.Subscription.ID)
		if err != nil {
			return apperr.Upstream("stripe_error", err)
		}
		m := &premium.Membership{
			Email:                email,
			StripeSubscriptionID: sub.ID,
			Status:               string(sub.Status),
			ValidUntil:           time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		}
		if sess.Customer != nil {
			m.StripeCustomerID = sess.Customer.ID
		}
		if err := s.premium.Upsert(ctx, m); err != nil {
			return apperr.Internal(err)
		}
		log.WithFields(log.Fields{"email": email, "valid_until": m.ValidUntil}).Info("Premium activated")
		return nil

	default:
		log.WithField("session", sess.ID).Warn("Checkout session without a known purpose")
		return nil
	}
}

func (s *PaymentService) issueTicket(ctx context.Context, sess *stripe.CheckoutSession, email string) error {
	var eventID *string
	benefit := "Event ticket"
	if offerID := sess.Metadata["offer_id"]; offerID != "" {
		eventID = &offerID
		if id, err := uuid.Parse(offerID); err == nil {
			if o, err := s.offers.Get(ctx, id); err == nil {
				benefit = o.Title
			}
		}
	}

	if _, err := s.issuer.Issue(ctx, entitlement.IssueRequest{
		Kind:           entitlement.KindTicket,
		Benefit:        benefit,
		PurchaserEmail: email,
		EventID:        eventID,
		SourceRef:      sess.ID,
	}); err != nil {
		return err
	}

	// One reward point per whole currency unit paid. Keyed by session, so a retried delivery
	// credits points the previous attempt did not get to.
	if points := int(sess.AmountTotal / 100); points > 0 && s.rewards != nil {
		if _, err := s.rewards.CreditOnce(ctx, email, points, "stripe:"+sess.ID); err != nil {
			log.WithError(err).WithField("email", email).Error("Failed to credit reward points")
			return apperr.Internal(err)
		}
	}
	return nil
}

func (s *PaymentService) applySubscription(ctx context.Context, sub *stripe.Subscription) error {
	status := string(sub.Status)
	var validUntil time.Time
	if sub.CurrentPeriodEnd > 0 {
		validUntil = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	updated, err := s.premium.UpdateBySubscription(ctx, sub.ID, status, validUntil)
	if err != nil {
		return apperr.Internal(err)
	}
	if !updated {
		log.WithField("subscription", sub.ID).Warn("Subscription event for unknown membership")
	}
	return nil
}
