package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog/log"

	"github.com/bangleworld/orderflow/internal/order"
)

type RazorpayGateway struct {
	client    *razorpay.Client
	keyID     string
	keySecret string
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{
		client:    razorpay.NewClient(keyID, keySecret),
		keyID:     keyID,
		keySecret: keySecret,
	}
}

func (g *RazorpayGateway) Name() string {
	return GatewayRazorpay
}

func (g *RazorpayGateway) CreateIntent(ctx context.Context, o *order.Order) (*IntentRef, error) {
	amount := minorUnits(o.TotalAmount)

	data := map[string]interface{}{
		"amount":   amount,
		"currency": o.Currency,
		"receipt":  o.OrderNumber,
		"notes": map[string]interface{}{
			"order_id": o.ID.String(),
		},
	}

	rzpOrder, err := g.client.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: failed to create order for %s: %w", o.OrderNumber, err)
	}

	gatewayOrderID, _ := rzpOrder["id"].(string)
	if gatewayOrderID == "" {
		return nil, fmt.Errorf("razorpay: order create response for %s carried no id", o.OrderNumber)
	}

	log.Info().Str("order_number", o.OrderNumber).Str("razorpay_order_id", gatewayOrderID).Msg("Razorpay order created")

	return &IntentRef{
		Gateway:        GatewayRazorpay,
		GatewayOrderID: gatewayOrderID,
		KeyID:          g.keyID,
		Amount:         amount,
		Currency:       o.Currency,
	}, nil
}

func (g *RazorpayGateway) Refund(ctx context.Context, o *order.Order, amount float64) (*RefundRecord, error) {
	if o.Payment.PaymentID == "" {
		return nil, ErrNotRefundable
	}

	amount, minor, full, err := refundAmount(o.TotalAmount, amount)
	if err != nil {
		return nil, err
	}

	refund, err := g.client.Payment.Refund(o.Payment.PaymentID, int(minor), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: failed to refund payment %s: %w", o.Payment.PaymentID, err)
	}

	refundID, _ := refund["id"].(string)

	return &RefundRecord{
		RefundID: refundID,
		Amount:   amount,
		Partial:  !full,
	}, nil
}

// refundAmount resolves the amount to refund in paise. The SDK takes an
// int, so the value is range-checked before it is narrowed on 32-bit
// platforms.
func refundAmount(total, requested float64) (amount float64, minor int64, full bool, err error) {
	amount = requested
	full = amount <= 0 || amount >= total
	if full {
		amount = total
	}

	minor = minorUnits(amount)
	if minor < 0 || minor > math.MaxInt32 {
		return 0, 0, false, fmt.Errorf("razorpay: refund of %d paise is outside the gateway's amount range", minor)
	}
	return amount, minor, full, nil
}

// VerifyCheckoutSignature checks the signature Razorpay's checkout hands
// back to the client: HMAC-SHA256 over "orderID|paymentID" with the key
// secret, hex encoded. Comparison is constant time.
func (g *RazorpayGateway) VerifyCheckoutSignature(gatewayOrderID, paymentID, signature string) error {
	expected := razorpaySignature(gatewayOrderID, paymentID, g.keySecret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyWebhookSignature checks X-Razorpay-Signature against the raw
// webhook body.
func VerifyWebhookSignature(body []byte, signature, secret string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

func razorpaySignature(gatewayOrderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s", gatewayOrderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}
