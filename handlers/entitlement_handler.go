package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"nearGoAPI/internal/types/entitlement"
	"nearGoAPI/middleware"
	"nearGoAPI/services"
)

type EntitlementService interface {
	Redeem(ctx context.Context, req entitlement.RedeemRequest, who services.Requester) (*entitlement.RedeemResult, error)
	Cancel(ctx context.Context, tok string, who services.Requester) (*entitlement.Entitlement, error)
	Lookup(ctx context.Context, tok string) (*entitlement.Entitlement, error)
	IssueFreeCoupon(ctx context.Context, req entitlement.FreeCouponRequest) (*entitlement.IssueResult, error)
}

type EntitlementHandler struct {
	entitlements EntitlementService
}

func NewEntitlementHandler(entitlements EntitlementService) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements}
}

// Redeem expects middleware.IdentifyRequester upstream. Missing credentials still go through the
// service so the attempt is audited.
func (h *EntitlementHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req entitlement.RedeemRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.entitlements.Redeem(ctx, req, middleware.GetRequester(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	if res.AlreadyRedeemed {
		respondOK(w, map[string]any{
			"alreadyRedeemed": true,
			"redeemed_at":     res.RedeemedAt,
		})
		return
	}
	respondOK(w, map[string]any{
		"status":      res.Status,
		"redeemed_at": res.RedeemedAt,
	})
}

func (h *EntitlementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req entitlement.CancelRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	e, err := h.entitlements.Cancel(ctx, req.Token, middleware.GetRequester(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"status": e.Status, "cancelled_at": e.CancelledAt})
}

func (h *EntitlementHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	e, err := h.entitlements.Lookup(ctx, mux.Vars(r)["token"])
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"entitlement": e})
}

func (h *EntitlementHandler) FreeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	var req entitlement.FreeCouponRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.entitlements.IssueFreeCoupon(ctx, req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{
		"token":      res.Entitlement.Token,
		"redeem_url": res.RedeemURL,
		"qr_code":    res.QRCodeBase64,
	})
}
