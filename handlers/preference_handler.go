package handlers

import (
	"context"
	"net/http"
	"time"

	"nearGoAPI/internal/types/preference"
)

type PreferenceService interface {
	Get(ctx context.Context, email string) (*preference.Preference, error)
	Save(ctx context.Context, email string, req preference.SaveRequest) (*preference.Preference, error)
	RegisterDevice(ctx context.Context, email string, req preference.RegisterDeviceRequest) (*preference.Preference, error)
}

type PreferenceHandler struct {
	prefs    PreferenceService
	accounts EmailResolver
}

func NewPreferenceHandler(prefs PreferenceService, accounts EmailResolver) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs, accounts: accounts}
}

func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	email, ok := sessionEmail(w, r.WithContext(ctx), h.accounts)
	if !ok {
		return
	}

	p, err := h.prefs.Get(ctx, email)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"preferences": p})
}

func (h *PreferenceHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	email, ok := sessionEmail(w, r.WithContext(ctx), h.accounts)
	if !ok {
		return
	}

	var req preference.SaveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.prefs.Save(ctx, email, req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"preferences": p})
}

func (h *PreferenceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	email, ok := sessionEmail(w, r.WithContext(ctx), h.accounts)
	if !ok {
		return
	}

	var req preference.RegisterDeviceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.prefs.RegisterDevice(ctx, email, req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"devices": len(p.DeviceTokens)})
}
