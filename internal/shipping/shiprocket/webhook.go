package shiprocket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrBadWebhookSignature = errors.New("shiprocket: webhook signature mismatch")

// WebhookPayload is the tracking update Shiprocket POSTs back to us.
type WebhookPayload struct {
	AWB            string `json:"awb"`
	OrderID        string `json:"order_id"`
	CurrentStatus  string `json:"current_status"`
	ShipmentStatus string `json:"shipment_status"`
	CourierName    string `json:"courier_name"`
	ETD            string `json:"etd"`
	ScanLocation   string `json:"scan_location"`
}

// VerifyWebhookSignature checks the x-api-key style HMAC header against
// the raw body. Shiprocket makes webhook signing optional; with no
// secret configured, verification is skipped.
func VerifyWebhookSignature(body []byte, signature, secret string) error {
	if secret == "" {
		return nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadWebhookSignature
	}
	return nil
}
