package handlers

import (
	"context"
	"net/http"
	"time"

	"nearGoAPI/internal/types/verification"
	"nearGoAPI/middleware"
)

type VerificationService interface {
	RequestCode(ctx context.Context, email, ip string) error
	ConfirmCode(ctx context.Context, email, code string) error
}

type VerificationHandler struct {
	codes VerificationService
}

func NewVerificationHandler(codes VerificationService) *VerificationHandler {
	return &VerificationHandler{codes: codes}
}

func (h *VerificationHandler) Request(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	var req verification.RequestCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.codes.RequestCode(ctx, req.Email, middleware.ClientIP(r)); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, nil)
}

func (h *VerificationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var req verification.ConfirmCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.codes.ConfirmCode(ctx, req.Email, req.Code); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"verified": true})
}
