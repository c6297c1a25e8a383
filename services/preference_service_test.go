package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/internal/types/preference"
)

func TestSaveRejectsThirdCategory(t *testing.T) {
	store := newFakePreferences(newFakePremium())
	svc := NewPreferenceService(store)
	ctx := context.Background()

	p, err := svc.Save(ctx, "a@example.com", preference.SaveRequest{Categories: []string{"music", "food"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"music", "food"}, p.Categories)

	_, err = svc.Save(ctx, "a@example.com", preference.SaveRequest{Categories: []string{"music", "food", "sport"}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "too_many_categories", apperr.As(err).Code)

	saved, err := svc.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"music", "food"}, saved.Categories)
}

func TestSaveRadiusNeedsCenter(t *testing.T) {
	svc := NewPreferenceService(newFakePreferences(newFakePremium()))
	_, err := svc.Save(context.Background(), "a@example.com", preference.SaveRequest{RadiusKm: ptr(5.0)})
	assert.Equal(t, "radius_requires_center", apperr.As(err).Code)

	p, err := svc.Save(context.Background(), "a@example.com", preference.SaveRequest{
		Latitude: ptr(46.05), Longitude: ptr(14.51), RadiusKm: ptr(5.0),
	})
	require.NoError(t, err)
	assert.True(t, p.HasCenter())
}

func TestSaveIsPartial(t *testing.T) {
	svc := NewPreferenceService(newFakePreferences(newFakePremium()))
	ctx := context.Background()

	_, err := svc.Save(ctx, "a@example.com", preference.SaveRequest{Categories: []string{"music"}})
	require.NoError(t, err)
	p, err := svc.Save(ctx, "a@example.com", preference.SaveRequest{EmailEnabled: ptr(false)})
	require.NoError(t, err)

	assert.Equal(t, []string{"music"}, p.Categories)
	assert.False(t, p.EmailEnabled)
	assert.True(t, p.PushEnabled)
}

func TestRegisterDeviceDeduplicates(t *testing.T) {
	svc := NewPreferenceService(newFakePreferences(newFakePremium()))
	ctx := context.Background()

	_, err := svc.RegisterDevice(ctx, "a@example.com", preference.RegisterDeviceRequest{Token: "t1", Platform: "android"})
	require.NoError(t, err)
	p, err := svc.RegisterDevice(ctx, "a@example.com", preference.RegisterDeviceRequest{Token: "t1", Platform: "ios"})
	require.NoError(t, err)

	require.Len(t, p.DeviceTokens, 1)
	assert.Equal(t, "ios", p.DeviceTokens[0].Platform)
}
