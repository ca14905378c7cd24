package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/bangleworld/orderflow/internal/auth"
	"github.com/bangleworld/orderflow/internal/settings"
)

type UpdateSettingsRequest struct {
	AutoCreateShipment    *bool  `json:"auto_create_shipment" validate:"required"`
	RequireOrderApproval  *bool  `json:"require_order_approval" validate:"required"`
	DefaultPickupLocation string `json:"default_pickup_location" validate:"required"`
}

type SettingsHandler struct {
	store    settings.Store
	validate *validator.Validate
}

func NewSettingsHandler(store settings.Store) *SettingsHandler {
	return &SettingsHandler{
		store:    store,
		validate: validator.New(),
	}
}

func (h *SettingsHandler) RegisterAdminRoutes(router chi.Router) {
	router.Get("/settings", h.handleGetSettings)
	router.Put("/settings", h.handleUpdateSettings)
}

func (h *SettingsHandler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get admin settings")
		respondWithError(w, http.StatusInternalServerError, "Failed to get settings")
		return
	}

	respondWithJSON(w, http.StatusOK, s)
}

func (h *SettingsHandler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.store.Update(r.Context(), settings.AdminSettings{
		AutoCreateShipment:    *req.AutoCreateShipment,
		RequireOrderApproval:  *req.RequireOrderApproval,
		DefaultPickupLocation: req.DefaultPickupLocation,
		LastUpdatedBy:         auth.UserID(r.Context()),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to update admin settings")
		respondWithError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}
