package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bangleworld/orderflow/internal/catalog"
	"github.com/bangleworld/orderflow/internal/config"
	"github.com/bangleworld/orderflow/internal/db"
	handlerhttp "github.com/bangleworld/orderflow/internal/handler/http"
	"github.com/bangleworld/orderflow/internal/mailer"
	"github.com/bangleworld/orderflow/internal/order"
	"github.com/bangleworld/orderflow/internal/outbox"
	"github.com/bangleworld/orderflow/internal/payment"
	"github.com/bangleworld/orderflow/internal/settings"
	"github.com/bangleworld/orderflow/internal/shipping/shiprocket"
	"github.com/bangleworld/orderflow/internal/transport"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "orderflow").Logger()

	log.Info().Msg("orderflow starting...")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	orderRepo := order.NewRepository(database.Pool)
	catalogRepo := catalog.NewRepository(database.Pool)
	settingsStore := settings.NewStore(database.Pool)
	queue := outbox.NewQueue(database.Pool)

	shipClient := shiprocket.NewClient(shiprocket.Config{
		BaseURL:  cfg.Shiprocket.BaseURL,
		Email:    cfg.Shiprocket.Email,
		Password: cfg.Shiprocket.Password,
	})

	stripeGateway := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	razorpayGateway := payment.NewRazorpayGateway(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret)
	registry := payment.NewRegistry(stripeGateway, razorpayGateway)

	var m order.Mailer
	if cfg.SMTP.Host == "" {
		log.Warn().Msg("SMTP not configured, lifecycle emails disabled")
		m = mailer.Disabled{}
	} else {
		smtpMailer, err := mailer.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure SMTP mailer")
		}
		m = smtpMailer
	}

	svc := order.NewService(orderRepo, catalogRepo, shipClient, m, queue, registry, cfg.Shiprocket.PickupPincode)

	runTask := func(kind string) outbox.Handler {
		return func(ctx context.Context, task outbox.Task) error {
			var payload order.TaskPayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				return err
			}
			return svc.RunQueuedTask(ctx, kind, payload)
		}
	}
	worker := outbox.NewWorker(database.Pool, map[string]outbox.Handler{
		outbox.KindConfirmationEmail: runTask(outbox.KindConfirmationEmail),
		outbox.KindProcessingEmail:   runTask(outbox.KindProcessingEmail),
		outbox.KindShippedEmail:      runTask(outbox.KindShippedEmail),
		outbox.KindAWBGeneration:     runTask(outbox.KindAWBGeneration),
	})
	go worker.Run(ctx)

	router := transport.NewRouter(cfg.JWTSecret, transport.Handlers{
		Orders:   handlerhttp.NewOrderHandler(svc),
		Payments: handlerhttp.NewPaymentHandler(svc, registry, razorpayGateway, stripeGateway, settingsStore, cfg.Razorpay.WebhookSecret),
		Shipping: handlerhttp.NewShippingHandler(svc, shipClient, settingsStore, cfg.Shiprocket.WebhookSecret),
		Settings: handlerhttp.NewSettingsHandler(settingsStore),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
