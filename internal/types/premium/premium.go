package premium

import "time"

type Membership struct {
	Email                string    `json:"email" db:"email"`
	StripeCustomerID     string    `json:"stripeCustomerId" db:"stripe_customer_id"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId" db:"stripe_subscription_id"`
	Status               string    `json:"status" db:"status"`
	ValidUntil           time.Time `json:"validUntil" db:"valid_until"`
	UpdatedAt            time.Time `json:"updatedAt" db:"updated_at"`
}

// Active reports whether the membership grants premium at t.
func (m *Membership) Active(t time.Time) bool {
	switch m.Status {
	case "active", "trialing":
		return t.Before(m.ValidUntil)
	default:
		return false
	}
}
