// Package transport assembles the HTTP router. Route groups: public
// webhooks (signature-verified, no JWT), authenticated storefront
// routes, and the admin group behind the role gate.
package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bangleworld/orderflow/internal/auth"
	handlerhttp "github.com/bangleworld/orderflow/internal/handler/http"
)

type Handlers struct {
	Orders   *handlerhttp.OrderHandler
	Payments *handlerhttp.PaymentHandler
	Shipping *handlerhttp.ShippingHandler
	Settings *handlerhttp.SettingsHandler
}

func NewRouter(jwtSecret string, h Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api", func(api chi.Router) {
		// Provider webhooks authenticate with signatures, not JWTs.
		h.Payments.RegisterWebhookRoutes(api)
		h.Shipping.RegisterWebhookRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(auth.Middleware(jwtSecret))

			h.Orders.RegisterRoutes(authed)
			h.Payments.RegisterRoutes(authed)

			authed.Group(func(admin chi.Router) {
				admin.Use(auth.RequireAdmin)
				h.Shipping.RegisterShippingRoutes(admin)

				admin.Route("/admin", func(adminAPI chi.Router) {
					h.Orders.RegisterAdminRoutes(adminAPI)
					h.Shipping.RegisterAdminRoutes(adminAPI)
					h.Settings.RegisterAdminRoutes(adminAPI)
				})
			})
		})
	})

	return r
}
