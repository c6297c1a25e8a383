package preference

import "time"

// MaxCategories is the number of subcategories a user may follow.
const MaxCategories = 2

type DeviceToken struct {
	Token    string    `json:"token"`
	Platform string    `json:"platform"`
	AddedAt  time.Time `json:"added_at"`
	LastUsed time.Time `json:"last_used"`
}

// Preference is the per-email notification profile used by the early-access notifier.
type Preference struct {
	Email        string        `json:"email" db:"email"`
	Categories   []string      `json:"categories" db:"categories"`
	Latitude     *float64      `json:"latitude,omitempty" db:"lat"`
	Longitude    *float64      `json:"longitude,omitempty" db:"lng"`
	RadiusKm     *float64      `json:"radius_km,omitempty" db:"radius_km"`
	Phone        *string       `json:"phone,omitempty" db:"phone"`
	PushEnabled  bool          `json:"push_enabled" db:"push_enabled"`
	EmailEnabled bool          `json:"email_enabled" db:"email_enabled"`
	DeviceTokens []DeviceToken `json:"device_tokens" db:"device_tokens"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

func (p *Preference) HasCenter() bool {
	return p.Latitude != nil && p.Longitude != nil
}

type SaveRequest struct {
	Categories   []string `json:"categories" validate:"dive,required,max=64"`
	Latitude     *float64 `json:"latitude" validate:"required_with=Longitude,omitempty,gte=-90,lte=90"`
	Longitude    *float64 `json:"longitude" validate:"required_with=Latitude,omitempty,gte=-180,lte=180"`
	RadiusKm     *float64 `json:"radius_km" validate:"omitempty,gt=0,lte=500"`
	Phone        *string  `json:"phone" validate:"omitempty,e164"`
	PushEnabled  *bool    `json:"push_enabled"`
	EmailEnabled *bool    `json:"email_enabled"`
}

type RegisterDeviceRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}
