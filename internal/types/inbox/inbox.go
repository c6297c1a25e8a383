package inbox

import (
	"time"

	"github.com/google/uuid"
)

// Item is one early-offer notification delivered to a premium user.
type Item struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Email     string     `json:"email" db:"email"`
	OfferID   uuid.UUID  `json:"offer_id" db:"offer_id"`
	Title     string     `json:"title" db:"title"`
	PublishAt time.Time  `json:"publish_at" db:"publish_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty" db:"read_at"`
}
