package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"nearGoAPI/internal/types/payment"
	"nearGoAPI/services"
)

type CheckoutService interface {
	CreateCheckout(ctx context.Context, email string, offerID uuid.UUID) (*services.CheckoutResult, error)
	CreatePremiumCheckout(ctx context.Context, email string) (*services.CheckoutResult, error)
}

type CheckoutHandler struct {
	payments CheckoutService
	accounts EmailResolver
}

func NewCheckoutHandler(payments CheckoutService, accounts EmailResolver) *CheckoutHandler {
	return &CheckoutHandler{payments: payments, accounts: accounts}
}

func (h *CheckoutHandler) Ticket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	email, ok := sessionEmail(w, r.WithContext(ctx), h.accounts)
	if !ok {
		return
	}

	var req payment.CheckoutRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_offer_id")
		return
	}

	res, err := h.payments.CreateCheckout(ctx, email, offerID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"session_id": res.SessionID, "url": res.URL})
}

func (h *CheckoutHandler) Premium(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	email, ok := sessionEmail(w, r.WithContext(ctx), h.accounts)
	if !ok {
		return
	}

	res, err := h.payments.CreatePremiumCheckout(ctx, email)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"session_id": res.SessionID, "url": res.URL})
}
