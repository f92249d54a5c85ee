package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeCheckout creates hosted Stripe checkout sessions directly instead
// of going through the course service.
type StripeCheckout struct {
	currency      string
	webhookSecret string
}

func NewStripeCheckout(secretKey, currency, webhookSecret string) *StripeCheckout {
	stripe.Key = secretKey
	if currency == "" {
		currency = "usd"
	}
	return &StripeCheckout{currency: strings.ToLower(currency), webhookSecret: webhookSecret}
}

func (p *StripeCheckout) CreateCheckout(_ context.Context, c Checkout) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.SuccessURL),
		CancelURL:         stripe.String(c.CancelURL),
		ClientReferenceID: stripe.String(c.StudentID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.currency),
					UnitAmount: stripe.Int64(toMinorUnits(c.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(c.CourseTitle),
					},
				},
			},
		},
		Metadata: map[string]string{
			"student_id": c.StudentID,
			"course_id":  c.CourseID,
			"school_id":  c.SchoolID,
		},
	}
	if c.Email != "" {
		params.CustomerEmail = stripe.String(c.Email)
	}
	s, err := session.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe checkout: %w", err)
	}
	return fromStripe(s), nil
}

func (p *StripeCheckout) Lookup(_ context.Context, sessionID string) (Session, error) {
	s, err := session.Get(sessionID, nil)
	if err != nil {
		return Session{}, fmt.Errorf("stripe checkout lookup: %w", err)
	}
	return fromStripe(s), nil
}

// ParseWebhook verifies a Stripe event and returns the paid session when the
// event is checkout.session.completed. ok is false for other events.
func (p *StripeCheckout) ParseWebhook(payload []byte, signature string) (Session, bool, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return Session{}, false, fmt.Errorf("stripe webhook: %w", err)
	}
	if event.Type != "checkout.session.completed" {
		return Session{}, false, nil
	}
	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return Session{}, false, fmt.Errorf("stripe webhook: %w", err)
	}
	return fromStripe(&s), true, nil
}

func fromStripe(s *stripe.CheckoutSession) Session {
	out := Session{
		ID:     s.ID,
		URL:    s.URL,
		Paid:   s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Amount: float64(s.AmountTotal) / 100,
	}
	if s.Metadata != nil {
		out.StudentID = s.Metadata["student_id"]
		out.CourseID = s.Metadata["course_id"]
	}
	if out.StudentID == "" {
		out.StudentID = s.ClientReferenceID
	}
	return out
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
