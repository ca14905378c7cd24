package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bangleworld/orderflow/internal/auth"
	"github.com/bangleworld/orderflow/internal/order"
)

type CheckoutItemRequest struct {
	ProductID  uuid.UUID `json:"product_id" validate:"required"`
	VariantSKU string    `json:"variant_sku"`
	Quantity   int       `json:"quantity" validate:"required,gt=0"`
}

type CheckoutAddressRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required"`
	Line1   string `json:"line1" validate:"required"`
	Line2   string `json:"line2"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Pincode string `json:"pincode" validate:"required,len=6,numeric"`
	Country string `json:"country"`
}

type CheckoutRequest struct {
	Items        []CheckoutItemRequest  `json:"items" validate:"required,min=1,dive"`
	Address      CheckoutAddressRequest `json:"address" validate:"required"`
	Currency     string                 `json:"currency" validate:"omitempty,len=3"`
	ShippingCost float64                `json:"shipping_cost" validate:"gte=0"`
	Tax          float64                `json:"tax" validate:"gte=0"`
	Discount     float64                `json:"discount" validate:"gte=0"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCheckout)
	router.Get("/orders", h.handleListOwnOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
}

func (h *OrderHandler) RegisterAdminRoutes(router chi.Router) {
	router.Get("/orders", h.handleListByStatus)
	router.Patch("/orders/{id}/status", h.handleUpdateStatus)
	router.Post("/orders/{id}/cancel", h.handleCancel)
	router.Post("/orders/{id}/return", h.handleMarkReturned)
}

func authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.FromString(auth.UserID(r.Context()))
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Invalid user identity")
		return uuid.Nil, false
	}
	return userID, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid order ID format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrderHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	input := order.CheckoutInput{
		UserID: userID,
		Address: order.Address{
			Name:    req.Address.Name,
			Email:   req.Address.Email,
			Phone:   req.Address.Phone,
			Line1:   req.Address.Line1,
			Line2:   req.Address.Line2,
			City:    req.Address.City,
			State:   req.Address.State,
			Pincode: req.Address.Pincode,
			Country: req.Address.Country,
		},
		Currency:     req.Currency,
		ShippingCost: req.ShippingCost,
		Tax:          req.Tax,
		Discount:     req.Discount,
	}
	if input.Address.Country == "" {
		input.Address.Country = "India"
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, order.CheckoutItem{
			ProductID:  item.ProductID,
			VariantSKU: item.VariantSKU,
			Quantity:   item.Quantity,
		})
	}

	created, err := h.service.Checkout(r.Context(), input)
	if err != nil {
		log.Error().Err(err).Msg("Checkout failed")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to place order")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	userID, ok := authenticatedUserID(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), "Failed to get order")
		return
	}

	if o.UserID != userID && !auth.IsAdmin(r.Context()) {
		respondWithError(w, http.StatusForbidden, "Access denied")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleListOwnOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListUserOrders(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleListByStatus(w http.ResponseWriter, r *http.Request) {
	status := order.OrderStatus(r.URL.Query().Get("status"))
	if status == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'status' is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	orders, err := h.service.ListOrdersByStatus(r.Context(), status, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders by status")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	o, err := h.service.UpdateStatus(r.Context(), id, order.OrderStatus(req.Status), auth.UserID(r.Context()))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("Failed to update order status")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	result, err := h.service.Cancel(r.Context(), id, req.Reason, auth.UserID(r.Context()))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("Failed to cancel order")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to cancel order")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *OrderHandler) handleMarkReturned(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	o, err := h.service.MarkReturned(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("Failed to mark order returned")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to mark order returned")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}
