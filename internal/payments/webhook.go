package payments

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v74/webhook"
)

// Outcome is a verified payment result extracted from a webhook event.
// Ref matches the provider reference stored on the transaction.
type Outcome struct {
	Ref       string
	Succeeded bool
	ErrMsg    string
	Handled   bool
}

// Webhook verifies inbound gateway events. Events with an invalid
// signature are rejected before anything is trusted.
type Webhook struct {
	secret string
}

func NewWebhook(secret string) *Webhook {
	return &Webhook{secret: secret}
}

// Parse validates the signature and maps the event to an Outcome.
// Unrecognized event types come back with Handled=false and no error.
func (w *Webhook) Parse(payload []byte, sigHeader string) (Outcome, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, w.secret)
	if err != nil {
		return Outcome{}, fmt.Errorf("webhook verification: %w", err)
	}

	var obj struct {
		ID               string `json:"id"`
		LastPaymentError struct {
			Message string `json:"message"`
		} `json:"last_payment_error"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return Outcome{}, fmt.Errorf("webhook payload: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed", "payment_intent.succeeded":
		return Outcome{Ref: obj.ID, Succeeded: true, Handled: true}, nil
	case "payment_intent.payment_failed":
		msg := obj.LastPaymentError.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return Outcome{Ref: obj.ID, Succeeded: false, ErrMsg: msg, Handled: true}, nil
	}
	return Outcome{}, nil
}
