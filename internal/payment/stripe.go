package payment

import (
	"context"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/bangleworld/orderflow/internal/order"
)

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{
		api:           api,
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) Name() string {
	return GatewayStripe
}

func (g *StripeGateway) CreateIntent(ctx context.Context, o *order.Order) (*IntentRef, error) {
	amount := minorUnits(o.TotalAmount)

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(o.Currency)),
	}
	params.Context = ctx
	params.AddMetadata("order_id", o.ID.String())
	params.AddMetadata("order_number", o.OrderNumber)

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to create payment intent for %s: %w", o.OrderNumber, err)
	}

	return &IntentRef{
		Gateway:      GatewayStripe,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       amount,
		Currency:     o.Currency,
	}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, o *order.Order, amount float64) (*RefundRecord, error) {
	if o.Payment.IntentID == "" {
		return nil, ErrNotRefundable
	}

	full := amount <= 0 || amount >= o.TotalAmount
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(o.Payment.IntentID),
	}
	params.Context = ctx
	if !full {
		params.Amount = stripe.Int64(minorUnits(amount))
	} else {
		amount = o.TotalAmount
	}

	ref, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to refund intent %s: %w", o.Payment.IntentID, err)
	}

	return &RefundRecord{
		RefundID: ref.ID,
		Amount:   amount,
		Partial:  !full,
	}, nil
}

// ConstructWebhookEvent verifies the Stripe-Signature header against the
// raw payload and returns the decoded event.
func (g *StripeGateway) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe: webhook verification failed: %w", err)
	}
	return event, nil
}
