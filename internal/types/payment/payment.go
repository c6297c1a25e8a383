package payment

type CheckoutRequest struct {
	OfferID string `json:"offerId" validate:"required,uuid"`
}
