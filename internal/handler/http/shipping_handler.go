package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bangleworld/orderflow/internal/auth"
	"github.com/bangleworld/orderflow/internal/order"
	"github.com/bangleworld/orderflow/internal/settings"
	"github.com/bangleworld/orderflow/internal/shipping/shiprocket"
)

// LogisticsClient is the slice of the Shiprocket client the HTTP layer
// calls directly, without going through the order service.
type LogisticsClient interface {
	Rates(ctx context.Context, pickupPincode, deliveryPincode string, weightKg float64, cod bool) ([]shiprocket.CourierRate, error)
	TrackByAWB(ctx context.Context, awb string) (*shiprocket.TrackingResult, error)
	PickupLocations(ctx context.Context) ([]shiprocket.PickupLocation, error)
	AddPickupLocation(ctx context.Context, loc shiprocket.NewPickupLocation) error
}

type BulkOrdersRequest struct {
	OrderIDs []uuid.UUID `json:"order_ids" validate:"required,min=1"`
}

type AddPickupLocationRequest struct {
	Name    string `json:"name" validate:"required"`
	Contact string `json:"contact" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required"`
	Address string `json:"address" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Country string `json:"country"`
	Pincode string `json:"pincode" validate:"required,len=6,numeric"`
}

type ShippingHandler struct {
	service       order.Service
	client        LogisticsClient
	settings      settings.Store
	webhookSecret string
	validate      *validator.Validate
}

func NewShippingHandler(service order.Service, client LogisticsClient, store settings.Store, webhookSecret string) *ShippingHandler {
	return &ShippingHandler{
		service:       service,
		client:        client,
		settings:      store,
		webhookSecret: webhookSecret,
		validate:      validator.New(),
	}
}

func (h *ShippingHandler) RegisterWebhookRoutes(router chi.Router) {
	router.Post("/shipping/webhook", h.handleTrackingWebhook)
}

func (h *ShippingHandler) RegisterAdminRoutes(router chi.Router) {
	router.Post("/orders/{id}/shipment", h.handleCreateShipment)
	router.Post("/orders/{id}/ship", h.handleShipOrder)
	router.Post("/orders/bulk-shipments", h.handleBulkCreateShipments)
	router.Post("/orders/bulk-ship", h.handleBulkShipOrders)
	router.Get("/pickup-locations", h.handleListPickupLocations)
	router.Post("/pickup-locations", h.handleAddPickupLocation)
}

func (h *ShippingHandler) RegisterShippingRoutes(router chi.Router) {
	router.Get("/shipping/rates", h.handleRates)
	router.Get("/shipping/track/{awb}", h.handleTrack)
}

func (h *ShippingHandler) policy(r *http.Request) settings.ShipmentPolicy {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load admin settings, using default pickup location")
		return settings.ShipmentPolicy{DefaultPickupLocation: "Primary"}
	}
	return s.Policy()
}

func (h *ShippingHandler) handleTrackingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if err := shiprocket.VerifyWebhookSignature(body, r.Header.Get("X-Api-Key"), h.webhookSecret); err != nil {
		log.Warn().Msg("Rejected Shiprocket webhook")
		respondWithError(w, http.StatusBadRequest, "Invalid webhook signature")
		return
	}

	var payload shiprocket.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed webhook payload")
		return
	}
	if payload.AWB == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'awb' field")
		return
	}

	err = h.service.ApplyTrackingUpdate(r.Context(), payload.AWB, payload.CurrentStatus, payload.ScanLocation)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			// Shiprocket pushes updates for every shipment on the
			// account, not only ours.
			log.Warn().Str("awb", payload.AWB).Msg("Tracking update for unknown AWB")
			respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Error().Err(err).Str("awb", payload.AWB).Msg("Failed to apply tracking update")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to apply tracking update")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *ShippingHandler) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	outcome, err := h.service.CreateShipment(r.Context(), id, h.policy(r), auth.UserID(r.Context()))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("Failed to create shipment")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to create shipment")
		return
	}

	respondWithJSON(w, http.StatusCreated, outcome)
}

func (h *ShippingHandler) handleShipOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.ShipOrder(r.Context(), id, auth.UserID(r.Context())); err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("Failed to ship order")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to ship order")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "shipped"})
}

func (h *ShippingHandler) handleBulkCreateShipments(w http.ResponseWriter, r *http.Request) {
	var req BulkOrdersRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	results := h.service.BulkCreateShipments(r.Context(), req.OrderIDs, h.policy(r), auth.UserID(r.Context()))
	respondWithJSON(w, http.StatusOK, results)
}

func (h *ShippingHandler) handleBulkShipOrders(w http.ResponseWriter, r *http.Request) {
	var req BulkOrdersRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	results := h.service.BulkShipOrders(r.Context(), req.OrderIDs, auth.UserID(r.Context()))
	respondWithJSON(w, http.StatusOK, results)
}

func (h *ShippingHandler) handleRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pickup := q.Get("pickup_pincode")
	delivery := q.Get("delivery_pincode")
	if pickup == "" || delivery == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameters 'pickup_pincode' and 'delivery_pincode' are required")
		return
	}

	weight := 0.5
	if raw := q.Get("weight"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'weight' parameter")
			return
		}
		weight = parsed
	}
	cod := q.Get("cod") == "1" || q.Get("cod") == "true"

	rates, err := h.client.Rates(r.Context(), pickup, delivery, weight, cod)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch courier rates")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to fetch courier rates")
		return
	}

	respondWithJSON(w, http.StatusOK, rates)
}

func (h *ShippingHandler) handleTrack(w http.ResponseWriter, r *http.Request) {
	awb := chi.URLParam(r, "awb")
	if awb == "" {
		respondWithError(w, http.StatusBadRequest, "Missing AWB code")
		return
	}

	tracking, err := h.client.TrackByAWB(r.Context(), awb)
	if err != nil {
		log.Error().Err(err).Str("awb", awb).Msg("Failed to track shipment")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to track shipment")
		return
	}

	respondWithJSON(w, http.StatusOK, tracking)
}

func (h *ShippingHandler) handleListPickupLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.client.PickupLocations(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pickup locations")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to list pickup locations")
		return
	}

	respondWithJSON(w, http.StatusOK, locations)
}

func (h *ShippingHandler) handleAddPickupLocation(w http.ResponseWriter, r *http.Request) {
	var req AddPickupLocationRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	loc := shiprocket.NewPickupLocation{
		Name:    req.Name,
		Contact: req.Contact,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
		City:    req.City,
		State:   req.State,
		Country: req.Country,
		Pincode: req.Pincode,
	}
	if loc.Country == "" {
		loc.Country = "India"
	}

	if err := h.client.AddPickupLocation(r.Context(), loc); err != nil {
		log.Error().Err(err).Msg("Failed to add pickup location")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to add pickup location")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}
