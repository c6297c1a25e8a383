package handlers

import (
	"context"
	"net/http"
	"time"

	"nearGoAPI/internal/types/reward"
)

type RewardsService interface {
	Balance(ctx context.Context, email string) (*reward.Account, error)
	Convert(ctx context.Context, email string) (*reward.ConvertResult, error)
}

type RewardsHandler struct {
	rewards  RewardsService
	accounts EmailResolver
}

func NewRewardsHandler(rewards RewardsService, accounts EmailResolver) *RewardsHandler {
	return &RewardsHandler{rewards: rewards, accounts: accounts}
}

func (h *RewardsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	email, ok := sessionEmail(w, r.WithContext(ctx), h.accounts)
	if !ok {
		return
	}

	acct, err := h.rewards.Balance(ctx, email)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"points": acct.Points})
}

func (h *RewardsHandler) Convert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	email, ok := sessionEmail(w, r.WithContext(ctx), h.accounts)
	if !ok {
		return
	}

	res, err := h.rewards.Convert(ctx, email)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"reward": res})
}
