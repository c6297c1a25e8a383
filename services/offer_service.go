package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/earlyaccess"
	"nearGoAPI/internal/repository"
	"nearGoAPI/internal/types/offer"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	geoSearchScan      = 500
)

type OfferService struct {
	offers          OfferStore
	early           *EarlyAccessService
	defaultCurrency string
	now             func() time.Time
}

func NewOfferService(offers OfferStore, early *EarlyAccessService, defaultCurrency string) *OfferService {
	return &OfferService{
		offers:          offers,
		early:           early,
		defaultCurrency: strings.ToLower(defaultCurrency),
		now:             time.Now,
	}
}

// Submit stores a provider's offer. If its early window is already open the matching premium users
// are notified right after the insert.
func (s *OfferService) Submit(ctx context.Context, providerSubject string, req offer.SubmitRequest) (*offer.Offer, error) {
	now := s.now().UTC()
	o := s.fromRequest(req)
	o.ID = uuid.New()
	o.ProviderSubject = providerSubject
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := s.offers.Create(ctx, o); err != nil {
		return nil, apperr.Internal(err)
	}
	log.WithFields(log.Fields{"offer_id": o.ID, "subcategory": o.Subcategory}).Info("Offer submitted")

	s.afterWrite(ctx, o)
	return o, nil
}

// Update rewrites an offer. Only the provider who submitted it may change it.
func (s *OfferService) Update(ctx context.Context, providerSubject string, id uuid.UUID, req offer.SubmitRequest) (*offer.Offer, error) {
	existing, err := s.offers.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("offer_not_found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if existing.ProviderSubject != providerSubject {
		return nil, apperr.Forbidden("not_offer_owner")
	}

	o := s.fromRequest(req)
	o.ID = id
	if err := s.offers.Update(ctx, o, providerSubject); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Forbidden("not_offer_owner")
		}
		return nil, apperr.Internal(err)
	}

	s.afterWrite(ctx, o)
	return o, nil
}

func (s *OfferService) afterWrite(ctx context.Context, o *offer.Offer) {
	if s.early == nil || o.EarlyNotifiedAt != nil {
		return
	}
	runPostCommit(ctx, Hook{
		Name: "early_notify",
		Run: func(ctx context.Context) error {
			return s.early.NotifyIfInWindow(ctx, o)
		},
	})
}

// Get returns a published offer. Unpublished offers are only reachable through early access.
func (s *OfferService) Get(ctx context.Context, id uuid.UUID) (*offer.Offer, error) {
	o, err := s.offers.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("offer_not_found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if s.now().Before(o.PublishAt) {
		return nil, apperr.NotFound("offer_not_found")
	}
	return o, nil
}

// Search returns published offers. With a center and radius, offers farther than the radius are
// dropped and the rest are ordered nearest first; offers without a venue are kept.
func (s *OfferService) Search(ctx context.Context, q offer.SearchQuery) ([]offer.SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if q.RadiusKm != nil && (q.Latitude == nil || q.Longitude == nil) {
		return nil, apperr.Validation("radius_requires_center")
	}
	q.Subcategory = strings.ToLower(strings.TrimSpace(q.Subcategory))
	q.Text = strings.TrimSpace(q.Text)

	viewer := earlyaccess.Viewer{Latitude: q.Latitude, Longitude: q.Longitude, RadiusKm: q.RadiusKm}
	hasCenter := q.Latitude != nil && q.Longitude != nil

	scan := limit
	if hasCenter {
		scan = geoSearchScan
	}
	offers, err := s.offers.SearchPublished(ctx, q, s.now(), scan)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if hasCenter {
		earlyaccess.SortByDistance(offers, viewer)
	}

	results := make([]offer.SearchResult, 0, len(offers))
	for i := range offers {
		r := offer.SearchResult{Offer: offers[i]}
		if d, ok := earlyaccess.Distance(viewer, &offers[i]); ok {
			if q.RadiusKm != nil && !earlyaccess.WithinRadius(d, *q.RadiusKm) {
				continue
			}
			r.DistanceKm = &d
		}
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (s *OfferService) fromRequest(req offer.SubmitRequest) *offer.Offer {
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}
	return &offer.Offer{
		Kind:        req.Kind,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Subcategory: strings.ToLower(strings.TrimSpace(req.Subcategory)),
		Benefit:     req.Benefit,
		PriceCents:  req.PriceCents,
		Currency:    currency,
		VenueName:   req.VenueName,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		PublishAt:   req.PublishAt.UTC(),
		StartsAt:    req.StartsAt,
	}
}
