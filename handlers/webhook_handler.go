package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"nearGoAPI/internal/types/account"
)

const (
	maxWebhookBytes = 65536
	svixTolerance   = 5 * time.Minute
)

var errBadSignature = errors.New("webhook signature mismatch")

type StripeEventHandler interface {
	HandleEvent(ctx context.Context, event stripe.Event) error
}

type ClerkEventHandler interface {
	HandleClerkEvent(ctx context.Context, event account.ClerkWebhookEvent) error
}

type WebhookHandler struct {
	payments     StripeEventHandler
	accounts     ClerkEventHandler
	stripeSecret string
	clerkSecret  string
	now          func() time.Time
}

func NewWebhookHandler(payments StripeEventHandler, accounts ClerkEventHandler, stripeSecret, clerkSecret string) *WebhookHandler {
	return &WebhookHandler{
		payments:     payments,
		accounts:     accounts,
		stripeSecret: stripeSecret,
		clerkSecret:  clerkSecret,
		now:          time.Now,
	}
}

// HandleStripeWebhook answers 5xx when processing fails so Stripe retries; handlers are idempotent.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "read_failed")
		return
	}

	if h.stripeSecret == "" {
		respondWithError(w, http.StatusServiceUnavailable, "payments_disabled")
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.stripeSecret)
	if err != nil {
		log.WithError(err).Warn("Stripe webhook signature verification failed")
		respondWithError(w, http.StatusBadRequest, "invalid_signature")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.payments.HandleEvent(ctx, event); err != nil {
		log.WithError(err).WithFields(log.Fields{"event_id": event.ID, "type": event.Type}).Error("Stripe webhook processing failed")
		respondWithError(w, http.StatusInternalServerError, "processing_failed")
		return
	}

	respondOK(w, nil)
}

func (h *WebhookHandler) HandleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "read_failed")
		return
	}

	if err := verifySvix(h.clerkSecret, r.Header, body, h.now()); err != nil {
		log.WithError(err).Warn("Invalid Clerk webhook signature")
		respondWithError(w, http.StatusUnauthorized, "invalid_signature")
		return
	}

	var event account.ClerkWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	log.WithField("type", event.Type).Info("Received Clerk webhook")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.accounts.HandleClerkEvent(ctx, event); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, nil)
}

// verifySvix checks the svix-signature header. The secret is "whsec_" followed by base64 key bytes;
// the header holds space separated "v1,<base64 sig>" entries, any of which may match.
func verifySvix(secret string, header http.Header, body []byte, now time.Time) error {
	if secret == "" {
		return errors.New("clerk webhook secret not configured")
	}

	id := header.Get("svix-id")
	ts := header.Get("svix-timestamp")
	sigs := header.Get("svix-signature")
	if id == "" || ts == "" || sigs == "" {
		return errors.New("missing svix headers")
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid svix timestamp: %w", err)
	}
	sent := time.Unix(sec, 0)
	if now.Sub(sent) > svixTolerance || sent.Sub(now) > svixTolerance {
		return errors.New("svix timestamp outside tolerance")
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return fmt.Errorf("invalid clerk webhook secret: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	expected := []byte(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	for _, entry := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(entry, ",")
		if ok && version == "v1" && hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return errBadSignature
}
