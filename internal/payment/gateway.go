// Package payment wraps the payment gateways behind one contract so the
// order orchestration does not care which provider collected the money.
package payment

import (
	"context"
	"errors"
	"math"

	"github.com/bangleworld/orderflow/internal/order"
)

const (
	GatewayStripe   = "stripe"
	GatewayRazorpay = "razorpay"
)

var (
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	ErrUnknownGateway    = errors.New("unknown payment gateway")
	ErrNotRefundable     = errors.New("payment is not in a refundable state")
)

// IntentRef identifies a payment attempt at the gateway. Exactly one of
// IntentID (Stripe) or GatewayOrderID (Razorpay) is set.
type IntentRef struct {
	Gateway        string `json:"gateway"`
	IntentID       string `json:"intent_id,omitempty"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
	ClientSecret   string `json:"client_secret,omitempty"`
	KeyID          string `json:"key_id,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type RefundRecord struct {
	RefundID string  `json:"refund_id"`
	Amount   float64 `json:"amount"`
	Partial  bool    `json:"partial"`
}

type Gateway interface {
	Name() string
	// CreateIntent registers the pending payment with the provider and
	// returns the reference the storefront needs to collect it.
	CreateIntent(ctx context.Context, o *order.Order) (*IntentRef, error)
	// Refund reverses a completed payment. A zero amount means a full
	// refund.
	Refund(ctx context.Context, o *order.Order, amount float64) (*RefundRecord, error)
}

// Registry resolves a gateway adapter by name.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	m := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		m[g.Name()] = g
	}
	return &Registry{gateways: m}
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return g, nil
}

// RefundOrder routes a refund to the gateway that collected the order's
// payment. A zero amount means a full refund.
func (r *Registry) RefundOrder(ctx context.Context, o *order.Order, amount float64) (refundID string, partial bool, err error) {
	if o.Payment.Status != order.PaymentCompleted {
		return "", false, ErrNotRefundable
	}

	g, err := r.Get(o.Payment.Gateway)
	if err != nil {
		return "", false, err
	}

	rec, err := g.Refund(ctx, o, amount)
	if err != nil {
		return "", false, err
	}
	return rec.RefundID, rec.Partial, nil
}

// minorUnits converts a major-unit amount to the smallest currency unit
// both providers bill in.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
