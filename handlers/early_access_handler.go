package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"nearGoAPI/internal/types/inbox"
	"nearGoAPI/internal/types/offer"
)

type EarlyAccessService interface {
	EarlyOffers(ctx context.Context, email string) ([]offer.Offer, error)
	Inbox(ctx context.Context, sessionEmail, requestedEmail string, limit int, mark bool) ([]inbox.Item, error)
}

type EarlyAccessHandler struct {
	early    EarlyAccessService
	accounts EmailResolver
}

func NewEarlyAccessHandler(early EarlyAccessService, accounts EmailResolver) *EarlyAccessHandler {
	return &EarlyAccessHandler{early: early, accounts: accounts}
}

func (h *EarlyAccessHandler) Offers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	email, ok := sessionEmail(w, r.WithContext(ctx), h.accounts)
	if !ok {
		return
	}

	offers, err := h.early.EarlyOffers(ctx, email)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"offers": offers})
}

// Inbox handles GET /early/inbox?email=&limit=&mark=1
func (h *EarlyAccessHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	email, ok := sessionEmail(w, r.WithContext(ctx), h.accounts)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit := 0
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}
	mark := query.Get("mark") == "1" || query.Get("mark") == "true"

	items, err := h.early.Inbox(ctx, email, query.Get("email"), limit, mark)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"items": items})
}
