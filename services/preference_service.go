package services

import (
	"context"
	"errors"
	"time"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/earlyaccess"
	"nearGoAPI/internal/repository"
	"nearGoAPI/internal/types/preference"
)

const maxDevices = 10

type PreferenceService struct {
	prefs PreferenceStore
	now   func() time.Time
}

func NewPreferenceService(prefs PreferenceStore) *PreferenceService {
	return &PreferenceService{prefs: prefs, now: time.Now}
}

// Get returns the saved preferences, or the defaults when none were saved yet.
func (s *PreferenceService) Get(ctx context.Context, email string) (*preference.Preference, error) {
	email = normalizeEmail(email)
	p, err := s.prefs.Get(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return defaultPreference(email), nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if p.Categories == nil {
		p.Categories = []string{}
	}
	return p, nil
}

// Save applies a partial update. Categories are capped at preference.MaxCategories and a radius needs
// a center to measure from.
func (s *PreferenceService) Save(ctx context.Context, email string, req preference.SaveRequest) (*preference.Preference, error) {
	p, err := s.Get(ctx, email)
	if err != nil {
		return nil, err
	}

	if req.Categories != nil {
		cats, err := earlyaccess.NormalizeCategories(req.Categories)
		if err != nil {
			return nil, apperr.Validation("too_many_categories")
		}
		p.Categories = cats
	}
	if req.Latitude != nil || req.Longitude != nil {
		p.Latitude = req.Latitude
		p.Longitude = req.Longitude
	}
	if req.RadiusKm != nil {
		p.RadiusKm = req.RadiusKm
	}
	if req.Phone != nil {
		p.Phone = req.Phone
		if *req.Phone == "" {
			p.Phone = nil
		}
	}
	if req.PushEnabled != nil {
		p.PushEnabled = *req.PushEnabled
	}
	if req.EmailEnabled != nil {
		p.EmailEnabled = *req.EmailEnabled
	}

	if p.RadiusKm != nil && !p.HasCenter() {
		return nil, apperr.Validation("radius_requires_center")
	}

	if err := s.prefs.Upsert(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}
	return p, nil
}

// RegisterDevice adds or refreshes an FCM device token. The oldest device is dropped past maxDevices.
func (s *PreferenceService) RegisterDevice(ctx context.Context, email string, req preference.RegisterDeviceRequest) (*preference.Preference, error) {
	p, err := s.Get(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	found := false
	for i := range p.DeviceTokens {
		if p.DeviceTokens[i].Token == req.Token {
			p.DeviceTokens[i].Platform = req.Platform
			p.DeviceTokens[i].LastUsed = now
			found = true
			break
		}
	}
	if !found {
		p.DeviceTokens = append(p.DeviceTokens, preference.DeviceToken{
			Token:    req.Token,
			Platform: req.Platform,
			AddedAt:  now,
			LastUsed: now,
		})
	}
	if len(p.DeviceTokens) > maxDevices {
		p.DeviceTokens = p.DeviceTokens[len(p.DeviceTokens)-maxDevices:]
	}

	if err := s.prefs.Upsert(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}
	return p, nil
}

func defaultPreference(email string) *preference.Preference {
	return &preference.Preference{
		Email:        email,
		Categories:   []string{},
		PushEnabled:  true,
		EmailEnabled: true,
		DeviceTokens: []preference.DeviceToken{},
	}
}
