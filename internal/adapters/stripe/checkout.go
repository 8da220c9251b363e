package stripe

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/showgate/booking-engine/internal/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Gateway wraps the processor's hosted checkout. The engine only ever sees
// a redirect URL, a session id and the signed payment-succeeded callback.
type Gateway struct {
	webhookSecret string
	successURL    string
	cancelURL     string
	sessionTTL    time.Duration
}

func NewGateway(secretKey, webhookSecret, successURL, cancelURL string, sessionTTL time.Duration) *Gateway {
	stripe.Key = secretKey
	return &Gateway{
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		sessionTTL:    sessionTTL,
	}
}

func cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreateSession opens a hosted checkout session for the booking: one line
// item carrying the booking amount and the showing title, bounded by the
// session TTL, with the booking id in metadata for the callback.
func (g *Gateway) CreateSession(ctx context.Context, b domain.Booking, title string) (url, sessionID string, err error) {
	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
		ExpiresAt:  stripe.Int64(time.Now().Add(g.sessionTTL).Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(cents(b.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(title),
						Description: stripe.String(strings.Join(b.Units, ", ")),
					},
				},
			},
		},
	}
	params.AddMetadata("booking_id", b.ID.String())

	s, err := session.New(params)
	if err != nil {
		return "", "", errors.Wrap(err, "create checkout session")
	}
	return s.URL, s.ID, nil
}

// VerifyCallback checks the processor's signature and, for a completed
// checkout, extracts the booking id from session metadata. Unhandled event
// types return ok=false with no error.
func (g *Gateway) VerifyCallback(payload []byte, signature string) (bookingID uuid.UUID, ok bool, err error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return uuid.Nil, false, errors.Wrap(err, "verify webhook signature")
	}
	if event.Type != "checkout.session.completed" {
		return uuid.Nil, false, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return uuid.Nil, false, errors.Wrap(err, "decode checkout session")
	}
	id, err := uuid.Parse(sess.Metadata["booking_id"])
	if err != nil {
		return uuid.Nil, false, errors.Wrap(err, "missing booking_id metadata")
	}
	return id, true, nil
}

// IssueRefund refunds part of a paid session back to the payer.
func (g *Gateway) IssueRefund(ctx context.Context, sessionID string, amount float64) error {
	s, err := session.Get(sessionID, &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return errors.Wrap(err, "fetch checkout session")
	}
	if s.PaymentIntent == nil {
		return errors.New("session has no payment intent")
	}
	_, err = refund.New(&stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(s.PaymentIntent.ID),
		Amount:        stripe.Int64(cents(amount)),
	})
	return errors.Wrap(err, "create refund")
}
