// Package earlyaccess decides which offers a viewer may see before their public publish time.
package earlyaccess

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"nearGoAPI/internal/types/offer"
	"nearGoAPI/internal/types/preference"
)

const earthRadiusKm = 6371.0

// distanceToleranceKm absorbs float rounding so an offer exactly on the radius stays inside it.
const distanceToleranceKm = 1e-6

type Visibility int

const (
	Hidden Visibility = iota
	Early
	Public
)

func (v Visibility) String() string {
	switch v {
	case Early:
		return "early"
	case Public:
		return "public"
	default:
		return "hidden"
	}
}

// Viewer is the part of a user that early access depends on.
type Viewer struct {
	Premium    bool
	Categories []string
	Latitude   *float64
	Longitude  *float64
	RadiusKm   *float64
}

func ViewerFromPreference(p *preference.Preference, premium bool) Viewer {
	if p == nil {
		return Viewer{Premium: premium}
	}
	return Viewer{
		Premium:    premium,
		Categories: p.Categories,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		RadiusKm:   p.RadiusKm,
	}
}

func (v Viewer) hasCenter() bool {
	return v.Latitude != nil && v.Longitude != nil
}

func (v Viewer) geoFiltered() bool {
	return v.hasCenter() && v.RadiusKm != nil
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Distance returns the viewer-to-venue distance, or false when either side has no coordinates.
func Distance(v Viewer, o *offer.Offer) (float64, bool) {
	if !v.hasCenter() || !o.HasVenue() {
		return 0, false
	}
	return Haversine(*v.Latitude, *v.Longitude, *o.Latitude, *o.Longitude), true
}

// WithinRadius reports whether d is inside radius, boundary included.
func WithinRadius(d, radiusKm float64) bool {
	return d <= radiusKm+distanceToleranceKm
}

// Classify places an offer relative to a viewer at now. From publish_at on, the offer is public for
// everyone. In [publish_at-window, publish_at) it is early for matching premium viewers and hidden
// for the rest.
func Classify(o *offer.Offer, v Viewer, now time.Time, window time.Duration) Visibility {
	if !now.Before(o.PublishAt) {
		return Public
	}
	if now.Before(o.PublishAt.Add(-window)) {
		return Hidden
	}
	if !v.Premium || !hasCategory(v.Categories, o.Subcategory) {
		return Hidden
	}
	if v.geoFiltered() {
		if d, ok := Distance(v, o); ok && !WithinRadius(d, *v.RadiusKm) {
			return Hidden
		}
	}
	return Early
}

// FilterEarlyOffers keeps the offers visible to v only through the early window. With a known
// center the result is ordered by distance, then publish_at.
func FilterEarlyOffers(offers []offer.Offer, v Viewer, now time.Time, window time.Duration) []offer.Offer {
	out := make([]offer.Offer, 0, len(offers))
	for i := range offers {
		if Classify(&offers[i], v, now, window) == Early {
			out = append(out, offers[i])
		}
	}
	if v.hasCenter() {
		SortByDistance(out, v)
	}
	return out
}

// SortByDistance orders offers by ascending distance from the viewer. Offers without a venue sort
// after those with one; ties fall back to publish_at.
func SortByDistance(offers []offer.Offer, v Viewer) {
	sort.SliceStable(offers, func(i, j int) bool {
		di, iok := Distance(v, &offers[i])
		dj, jok := Distance(v, &offers[j])
		switch {
		case iok && !jok:
			return true
		case !iok && jok:
			return false
		case iok && jok && di != dj:
			return di < dj
		}
		return offers[i].PublishAt.Before(offers[j].PublishAt)
	})
}

func hasCategory(categories []string, c string) bool {
	for _, x := range categories {
		if x == c {
			return true
		}
	}
	return false
}

var ErrTooManyCategories = errors.New("too many categories")

// NormalizeCategories trims, lowercases and de-duplicates categories and enforces the
// preference.MaxCategories cap.
func NormalizeCategories(categories []string) ([]string, error) {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || hasCategory(out, c) {
			continue
		}
		out = append(out, c)
	}
	if len(out) > preference.MaxCategories {
		return nil, ErrTooManyCategories
	}
	return out, nil
}
