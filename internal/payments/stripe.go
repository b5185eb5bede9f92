package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"

	"github.com/example/ride-dispatch/internal/models"
)

// Session is the gateway checkout handle returned to the rider app.
type Session struct {
	ID  string
	URL string
}

// Client wraps stripe-go Checkout Session creation for ride payments.
type Client struct {
	baseURL string
}

// NewClient sets the global stripe key and the redirect base URL.
func NewClient(apiKey, baseURL string) *Client {
	stripe.Key = apiKey
	return &Client{baseURL: baseURL}
}

// CreateCheckoutSession opens a one-off checkout for the ride amount.
// The session id doubles as the transaction provider reference that
// the webhook later resolves.
func (c *Client) CreateCheckoutSession(ctx context.Context, r *models.Ride, driverName string) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Params:             stripe.Params{Context: ctx},
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String("usd"),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(fmt.Sprintf("Ride with %s", driverName)),
					Description: stripe.String(fmt.Sprintf("Trip from %s to %s", r.PickupAddress, r.DropoffAddress)),
				},
				UnitAmount: stripe.Int64(models.Cents(r.EstimatedPrice)),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(fmt.Sprintf("%s/api/v1/rider/payment/success/?ride_id=%s", c.baseURL, r.ID)),
		CancelURL:         stripe.String(fmt.Sprintf("%s/api/v1/rider/payment/cancel/?ride_id=%s", c.baseURL, r.ID)),
		ClientReferenceID: stripe.String(r.ID),
	}
	params.AddMetadata("ride_id", r.ID)
	params.AddMetadata("rider_id", r.RiderID)

	s, err := session.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", models.ErrExternalService, err)
	}
	return Session{ID: s.ID, URL: s.URL}, nil
}
