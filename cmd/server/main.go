// Command server runs the NDI proof backend: it issues proof requests,
// receives verifier webhooks and serves verification results.
//
// @title       NDI Proof Backend API
// @version     1.0
// @BasePath    /api
package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	_ "github.com/tbourn/ndi-proof-backend/docs"
	"github.com/tbourn/ndi-proof-backend/internal/clock"
	"github.com/tbourn/ndi-proof-backend/internal/config"
	"github.com/tbourn/ndi-proof-backend/internal/correlation"
	"github.com/tbourn/ndi-proof-backend/internal/events"
	httpapi "github.com/tbourn/ndi-proof-backend/internal/http"
	"github.com/tbourn/ndi-proof-backend/internal/http/handlers"
	"github.com/tbourn/ndi-proof-backend/internal/ndi"
	"github.com/tbourn/ndi-proof-backend/internal/observability"
	"github.com/tbourn/ndi-proof-backend/internal/qr"
	"github.com/tbourn/ndi-proof-backend/internal/repo"
	"github.com/tbourn/ndi-proof-backend/internal/services"
	"github.com/tbourn/ndi-proof-backend/internal/sysutil"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		errLogger := sysutil.SetupLogger("error", false, os.Stderr)
		errLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version,
		attribute.String("ndi.verifier_host", hostOf(cfg.NDI.VerifierURL)))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(repo.Options{
		Driver:  cfg.DB.Driver,
		Path:    cfg.DB.Path,
		DSN:     cfg.DB.DSN,
		Tracing: cfg.OTEL.Enabled,
	})
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	svc := correlation.NewService(services.NewIdentityService(db), clock.Real{},
		logger.With().Str("component", "correlation").Logger())
	svc.PendingTTL = cfg.Expiry.PendingTTL
	svc.ResultTTL = cfg.Expiry.ResultTTL
	svc.ReceiptTTL = cfg.Expiry.ReceiptTTL
	svc.IDAttribute = cfg.NDI.IDAttribute
	svc.NameAttribute = cfg.NDI.NameAttribute

	janitor := correlation.NewJanitor(svc, logger.With().Str("component", "janitor").Logger())
	if err := janitor.Start(cfg.Expiry.Schedule); err != nil {
		return err
	}
	defer janitor.Stop()

	client := ndi.New(ndi.Config{
		AuthURL:      cfg.NDI.AuthURL,
		VerifierURL:  cfg.NDI.VerifierURL,
		BaseURL:      cfg.NDI.BaseURL,
		ClientID:     cfg.NDI.ClientID,
		ClientSecret: cfg.NDI.ClientSecret,
		WebhookID:    cfg.NDI.WebhookID,
		WebhookToken: cfg.NDI.WebhookToken,
		Timeout:      cfg.NDI.HTTPTimeout,
		RetryMax:     cfg.NDI.RetryMax,
	}, logger.With().Str("component", "ndi").Logger())

	pub, err := events.Open(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn().Err(err).Msg("close event publisher")
		}
	}()

	h := handlers.New(svc, client, pub, handlers.Options{
		ProofSpec:     ndi.NewProofSpec(cfg.NDI.ProofName, cfg.NDI.SchemaName, cfg.NDI.IDAttribute, cfg.NDI.NameAttribute),
		IDAttribute:   cfg.NDI.IDAttribute,
		NameAttribute: cfg.NDI.NameAttribute,
		QRSize:        qr.DefaultSize,
	})

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, h, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// The server keeps running when registration fails; deliveries can still
	// arrive if the webhook was registered earlier.
	if cfg.NDI.PublicURL != "" {
		go func() {
			if err := client.RegisterWebhook(ctx, cfg.NDI.PublicURL); err != nil {
				logger.Error().Err(err).Str("public_url", cfg.NDI.PublicURL).Msg("webhook registration failed")
				return
			}
			logger.Info().Str("public_url", cfg.NDI.PublicURL).Msg("webhook registered")
		}()
	} else {
		logger.Warn().Msg("PUBLIC_URL not set; skipping webhook registration")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
