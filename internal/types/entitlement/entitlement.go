package entitlement

import "time"

type Kind string

const (
	KindTicket Kind = "ticket"
	KindCoupon Kind = "coupon"
)

type Status string

const (
	StatusIssued    Status = "issued"
	StatusRedeemed  Status = "redeemed"
	StatusCancelled Status = "cancelled"
)

// Entitlement is one issued ticket or coupon. Status only moves issued -> redeemed or issued -> cancelled.
type Entitlement struct {
	Token          string     `json:"token" db:"token"`
	Kind           Kind       `json:"kind" db:"kind"`
	Status         Status     `json:"status" db:"status"`
	EventID        *string    `json:"event_id,omitempty" db:"event_id"`
	Benefit        string     `json:"benefit" db:"benefit"`
	PurchaserEmail string     `json:"purchaser_email" db:"purchaser_email"`
	SourceRef      *string    `json:"-" db:"source_ref"`
	IssuedAt       time.Time  `json:"issued_at" db:"issued_at"`
	RedeemedAt     *time.Time `json:"redeemed_at,omitempty" db:"redeemed_at"`
	RedeemedBy     *string    `json:"redeemed_by,omitempty" db:"redeemed_by"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

type Outcome string

const (
	OutcomeRedeemed        Outcome = "redeemed"
	OutcomeAlreadyRedeemed Outcome = "already_redeemed"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeInvalidToken    Outcome = "invalid_token"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeWrongEvent      Outcome = "wrong_event"
	OutcomeCancelRequested Outcome = "cancel"
)

// ScanAudit is one row of the append-only scan log. The scanner credential is stored hashed.
type ScanAudit struct {
	Token            string    `db:"token"`
	EventID          *string   `db:"event_id"`
	RequesterKind    string    `db:"requester_kind"`
	RequesterSubject string    `db:"requester_subject"`
	RequesterIP      string    `db:"requester_ip"`
	ScannerKeyHash   string    `db:"scanner_key_hash"`
	Outcome          Outcome   `db:"outcome"`
	CreatedAt        time.Time `db:"created_at"`
}

type IssueRequest struct {
	Kind           Kind    `json:"kind" validate:"required,oneof=ticket coupon"`
	Benefit        string  `json:"benefit" validate:"required,max=280"`
	PurchaserEmail string  `json:"purchaser_email" validate:"required,email"`
	EventID        *string `json:"event_id,omitempty" validate:"omitempty,uuid"`
	SourceRef      string  `json:"-"`
}

type IssueResult struct {
	Entitlement  *Entitlement `json:"entitlement"`
	RedeemURL    string       `json:"redeem_url"`
	QRCodeBase64 string       `json:"qr_code_base64"`
	Existing     bool         `json:"-"`
}

type RedeemRequest struct {
	Token   string `json:"token" validate:"required,max=128"`
	EventID string `json:"eventId" validate:"omitempty,max=64"`
}

type RedeemResult struct {
	Status          Status    `json:"status"`
	AlreadyRedeemed bool      `json:"already_redeemed"`
	RedeemedAt      time.Time `json:"redeemed_at"`
}

type CancelRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

type FreeCouponRequest struct {
	Email   string `json:"email" validate:"required,email"`
	OfferID string `json:"offerId" validate:"required,uuid"`
}
