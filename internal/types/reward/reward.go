package reward

import "time"

type Account struct {
	Email     string    `json:"email" db:"email"`
	Points    int       `json:"points" db:"points"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ConvertResult struct {
	PointsSpent     int    `json:"points_spent"`
	RemainingPoints int    `json:"remaining_points"`
	Token           string `json:"token"`
	RedeemURL       string `json:"redeem_url"`
}
