package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"nearGoAPI/internal/types/offer"
	"nearGoAPI/middleware"
)

type OfferService interface {
	Submit(ctx context.Context, providerSubject string, req offer.SubmitRequest) (*offer.Offer, error)
	Update(ctx context.Context, providerSubject string, id uuid.UUID, req offer.SubmitRequest) (*offer.Offer, error)
	Get(ctx context.Context, id uuid.UUID) (*offer.Offer, error)
	Search(ctx context.Context, q offer.SearchQuery) ([]offer.SearchResult, error)
}

type OfferHandler struct {
	offers OfferService
}

func NewOfferHandler(offers OfferService) *OfferHandler {
	return &OfferHandler{offers: offers}
}

// Search handles GET /offers?q=&subcategory=&lat=&lng=&radius_km=&limit=
func (h *OfferHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	query := r.URL.Query()
	q := offer.SearchQuery{
		Text:        query.Get("q"),
		Subcategory: query.Get("subcategory"),
	}

	var ok bool
	if q.Latitude, ok = floatParam(w, query.Get("lat"), "invalid_lat"); !ok {
		return
	}
	if q.Longitude, ok = floatParam(w, query.Get("lng"), "invalid_lng"); !ok {
		return
	}
	if q.RadiusKm, ok = floatParam(w, query.Get("radius_km"), "invalid_radius_km"); !ok {
		return
	}
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		q.Limit = n
	}

	results, err := h.offers.Search(ctx, q)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"offers": results})
}

func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "not_found")
		return
	}

	o, err := h.offers.Get(ctx, id)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"offer": o})
}

func (h *OfferHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req offer.SubmitRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	o, err := h.offers.Submit(ctx, clerkID, req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{"ok": true, "offer": o})
}

func (h *OfferHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "not_found")
		return
	}

	var req offer.SubmitRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	o, err := h.offers.Update(ctx, clerkID, id, req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"offer": o})
}

func floatParam(w http.ResponseWriter, raw, errCode string) (*float64, bool) {
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, errCode)
		return nil, false
	}
	return &v, true
}
