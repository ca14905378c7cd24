package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bangleworld/orderflow/internal/order"
	"github.com/bangleworld/orderflow/internal/payment"
	"github.com/bangleworld/orderflow/internal/settings"
)

const maxWebhookBody = 1 << 20

type CreateIntentRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
	Gateway string    `json:"gateway" validate:"required,oneof=stripe razorpay"`
}

type VerifyPaymentRequest struct {
	OrderID           uuid.UUID `json:"order_id" validate:"required"`
	RazorpayOrderID   string    `json:"razorpay_order_id" validate:"required"`
	RazorpayPaymentID string    `json:"razorpay_payment_id" validate:"required"`
	RazorpaySignature string    `json:"razorpay_signature" validate:"required"`
}

type PaymentHandler struct {
	service               order.Service
	registry              *payment.Registry
	razorpay              *payment.RazorpayGateway
	stripe                *payment.StripeGateway
	settings              settings.Store
	razorpayWebhookSecret string
	validate              *validator.Validate
}

func NewPaymentHandler(service order.Service, registry *payment.Registry, razorpay *payment.RazorpayGateway, stripe *payment.StripeGateway, store settings.Store, razorpayWebhookSecret string) *PaymentHandler {
	return &PaymentHandler{
		service:               service,
		registry:              registry,
		razorpay:              razorpay,
		stripe:                stripe,
		settings:              store,
		razorpayWebhookSecret: razorpayWebhookSecret,
		validate:              validator.New(),
	}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/intent", h.handleCreateIntent)
	router.Post("/payments/verify", h.handleVerifyPayment)
}

func (h *PaymentHandler) RegisterWebhookRoutes(router chi.Router) {
	router.Post("/payments/webhook", h.handleStripeWebhook)
	router.Post("/razorpay/webhook", h.handleRazorpayWebhook)
}

// shipmentPolicy loads the current automation policy. A read failure
// falls back to manual shipping so a settings outage never blocks
// payment confirmation.
func (h *PaymentHandler) shipmentPolicy(r *http.Request) settings.ShipmentPolicy {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load admin settings, disabling shipment automation")
		return settings.ShipmentPolicy{}
	}
	return s.Policy()
}

func (h *PaymentHandler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req CreateIntentRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	o, err := h.service.GetOrder(r.Context(), req.OrderID)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), "Failed to get order")
		return
	}
	if o.UserID != userID {
		respondWithError(w, http.StatusForbidden, "Access denied")
		return
	}
	if o.Payment.Status != order.PaymentPending {
		respondWithError(w, http.StatusConflict, "Order payment is not pending")
		return
	}

	gateway, err := h.registry.Get(req.Gateway)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), "Unknown payment gateway")
		return
	}

	ref, err := gateway.CreateIntent(r.Context(), o)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Str("gateway", req.Gateway).Msg("Failed to create payment intent")
		respondWithError(w, http.StatusBadGateway, "Payment gateway rejected the request")
		return
	}

	err = h.service.AttachPaymentRef(r.Context(), o.ID, order.Payment{
		Gateway:        ref.Gateway,
		IntentID:       ref.IntentID,
		GatewayOrderID: ref.GatewayOrderID,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("Failed to attach payment ref")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to record payment intent")
		return
	}

	respondWithJSON(w, http.StatusCreated, ref)
}

func (h *PaymentHandler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req VerifyPaymentRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	o, err := h.service.GetOrder(r.Context(), req.OrderID)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), "Failed to get order")
		return
	}
	if o.UserID != userID {
		respondWithError(w, http.StatusForbidden, "Access denied")
		return
	}

	if err := h.razorpay.VerifyCheckoutSignature(req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature); err != nil {
		log.Warn().Stringer("order_id", o.ID).Msg("Razorpay signature mismatch")
		if failErr := h.service.FailPayment(r.Context(), o.ID, "signature mismatch"); failErr != nil {
			log.Error().Err(failErr).Stringer("order_id", o.ID).Msg("Failed to mark payment failed")
		}
		respondWithError(w, http.StatusBadRequest, "Payment signature verification failed")
		return
	}

	conf := order.PaymentConfirmation{
		Gateway:        payment.GatewayRazorpay,
		GatewayOrderID: req.RazorpayOrderID,
		PaymentID:      req.RazorpayPaymentID,
		Signature:      req.RazorpaySignature,
	}
	result, err := h.service.ConfirmPayment(r.Context(), o.ID, conf, h.shipmentPolicy(r))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("Failed to confirm payment")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to confirm payment")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	event, err := h.stripe.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Warn().Err(err).Msg("Rejected Stripe webhook")
		respondWithError(w, http.StatusBadRequest, "Invalid webhook signature")
		return
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
	case "charge.refunded":
		h.handleStripeRefund(w, r, event.Data.Raw)
		return
	default:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var intent struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
		LastErr  struct {
			Message string `json:"message"`
		} `json:"last_payment_error"`
	}
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to decode Stripe event payload")
		respondWithError(w, http.StatusBadRequest, "Malformed event payload")
		return
	}

	o, err := h.findStripeOrder(r, intent.ID, intent.Metadata["order_id"])
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			// Likely an event for an order created by another
			// environment sharing the Stripe account.
			log.Warn().Str("intent_id", intent.ID).Msg("Stripe event for unknown order")
			respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		respondWithError(w, mapErrorToStatusCode(err), "Failed to resolve order")
		return
	}

	if event.Type == "payment_intent.payment_failed" {
		if err := h.service.FailPayment(r.Context(), o.ID, intent.LastErr.Message); err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("Failed to mark payment failed")
			respondWithError(w, mapErrorToStatusCode(err), "Failed to process event")
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
		return
	}

	conf := order.PaymentConfirmation{
		Gateway:  payment.GatewayStripe,
		IntentID: intent.ID,
	}
	result, err := h.service.ConfirmPayment(r.Context(), o.ID, conf, h.shipmentPolicy(r))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("Failed to confirm payment from Stripe webhook")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to process event")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// handleStripeRefund records refunds issued from the Stripe dashboard so the
// order reflects money movement that never went through the cancel flow.
func (h *PaymentHandler) handleStripeRefund(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var charge struct {
		ID             string            `json:"id"`
		PaymentIntent  string            `json:"payment_intent"`
		Metadata       map[string]string `json:"metadata"`
		Amount         int64             `json:"amount"`
		AmountRefunded int64             `json:"amount_refunded"`
		Refunds        struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"refunds"`
	}
	if err := json.Unmarshal(raw, &charge); err != nil {
		log.Error().Err(err).Msg("Failed to decode Stripe charge payload")
		respondWithError(w, http.StatusBadRequest, "Malformed event payload")
		return
	}

	o, err := h.findStripeOrder(r, charge.PaymentIntent, charge.Metadata["order_id"])
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Warn().Str("charge_id", charge.ID).Msg("Stripe refund for unknown order")
			respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		respondWithError(w, mapErrorToStatusCode(err), "Failed to resolve order")
		return
	}

	refundID := charge.ID
	if len(charge.Refunds.Data) > 0 {
		refundID = charge.Refunds.Data[0].ID
	}
	partial := charge.AmountRefunded < charge.Amount
	if err := h.service.RecordRefund(r.Context(), o.ID, refundID, partial); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("Failed to record refund")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to process event")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *PaymentHandler) findStripeOrder(r *http.Request, intentID, metadataOrderID string) (*order.Order, error) {
	if metadataOrderID != "" {
		if id, err := uuid.FromString(metadataOrderID); err == nil {
			return h.service.GetOrder(r.Context(), id)
		}
	}
	return h.service.GetOrderByGatewayRef(r.Context(), payment.GatewayStripe, intentID)
}

type razorpayWebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string            `json:"id"`
				OrderID string            `json:"order_id"`
				Notes   map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (h *PaymentHandler) handleRazorpayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if err := payment.VerifyWebhookSignature(body, r.Header.Get("X-Razorpay-Signature"), h.razorpayWebhookSecret); err != nil {
		log.Warn().Err(err).Msg("Rejected Razorpay webhook")
		respondWithError(w, http.StatusBadRequest, "Invalid webhook signature")
		return
	}

	var event razorpayWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed event payload")
		return
	}

	switch event.Event {
	case "payment.captured", "payment.failed":
	default:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	entity := event.Payload.Payment.Entity
	o, err := h.findRazorpayOrder(r, entity.OrderID, entity.Notes["order_id"])
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Warn().Str("razorpay_order_id", entity.OrderID).Msg("Razorpay event for unknown order")
			respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		respondWithError(w, mapErrorToStatusCode(err), "Failed to resolve order")
		return
	}

	if event.Event == "payment.failed" {
		if err := h.service.FailPayment(r.Context(), o.ID, "payment failed at gateway"); err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("Failed to mark payment failed")
			respondWithError(w, mapErrorToStatusCode(err), "Failed to process event")
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
		return
	}

	conf := order.PaymentConfirmation{
		Gateway:        payment.GatewayRazorpay,
		GatewayOrderID: entity.OrderID,
		PaymentID:      entity.ID,
	}
	result, err := h.service.ConfirmPayment(r.Context(), o.ID, conf, h.shipmentPolicy(r))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("Failed to confirm payment from Razorpay webhook")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to process event")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) findRazorpayOrder(r *http.Request, gatewayOrderID, noteOrderID string) (*order.Order, error) {
	if noteOrderID != "" {
		if id, err := uuid.FromString(noteOrderID); err == nil {
			return h.service.GetOrder(r.Context(), id)
		}
	}
	return h.service.GetOrderByGatewayRef(r.Context(), payment.GatewayRazorpay, gatewayOrderID)
}
