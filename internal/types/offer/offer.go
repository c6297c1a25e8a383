package offer

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindEvent  Kind = "event"
	KindCoupon Kind = "coupon"
)

type Offer struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	ProviderSubject string     `json:"-" db:"provider_subject"`
	Kind            Kind       `json:"kind" db:"kind"`
	Title           string     `json:"title" db:"title"`
	Description     string     `json:"description" db:"description"`
	Subcategory     string     `json:"subcategory" db:"subcategory"`
	Benefit         string     `json:"benefit" db:"benefit"`
	PriceCents      int64      `json:"price_cents" db:"price_cents"`
	Currency        string     `json:"currency" db:"currency"`
	VenueName       string     `json:"venue_name" db:"venue_name"`
	Latitude        *float64   `json:"latitude,omitempty" db:"lat"`
	Longitude       *float64   `json:"longitude,omitempty" db:"lng"`
	PublishAt       time.Time  `json:"publish_at" db:"publish_at"`
	StartsAt        *time.Time `json:"starts_at,omitempty" db:"starts_at"`
	EarlyNotifiedAt *time.Time `json:"-" db:"early_notified_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

func (o *Offer) HasVenue() bool {
	return o.Latitude != nil && o.Longitude != nil
}

type SubmitRequest struct {
	Kind        Kind       `json:"kind" validate:"required,oneof=event coupon"`
	Title       string     `json:"title" validate:"required,max=160"`
	Description string     `json:"description" validate:"max=4000"`
	Subcategory string     `json:"subcategory" validate:"required,max=64"`
	Benefit     string     `json:"benefit" validate:"max=280"`
	PriceCents  int64      `json:"price_cents" validate:"gte=0"`
	Currency    string     `json:"currency" validate:"omitempty,len=3"`
	VenueName   string     `json:"venue_name" validate:"max=160"`
	Latitude    *float64   `json:"latitude" validate:"required_with=Longitude,omitempty,gte=-90,lte=90"`
	Longitude   *float64   `json:"longitude" validate:"required_with=Latitude,omitempty,gte=-180,lte=180"`
	PublishAt   time.Time  `json:"publish_at" validate:"required"`
	StartsAt    *time.Time `json:"starts_at"`
}

type SearchQuery struct {
	Text        string
	Subcategory string
	Latitude    *float64
	Longitude   *float64
	RadiusKm    *float64
	Limit       int
}

// SearchResult is an offer with its distance from the search center, when one was given.
type SearchResult struct {
	Offer
	DistanceKm *float64 `json:"distance_km,omitempty"`
}
