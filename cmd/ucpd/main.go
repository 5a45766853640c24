// Command ucpd runs the UCP checkout engine for the demo coffee shop:
// discovery profile, checkout session API, mock tokenizer, and the
// protocol event feed.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cymbal-labs/ucp-engine/pkg/api"
	"github.com/cymbal-labs/ucp-engine/pkg/catalog"
	"github.com/cymbal-labs/ucp-engine/pkg/checkout"
	"github.com/cymbal-labs/ucp-engine/pkg/checkout/store"
	"github.com/cymbal-labs/ucp-engine/pkg/config"
	"github.com/cymbal-labs/ucp-engine/pkg/events"
	"github.com/cymbal-labs/ucp-engine/pkg/negotiate"
	"github.com/cymbal-labs/ucp-engine/pkg/observability"
	"github.com/cymbal-labs/ucp-engine/pkg/payment"
	"github.com/cymbal-labs/ucp-engine/pkg/profile"
	"github.com/cymbal-labs/ucp-engine/pkg/tax"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "ucpd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		logger.Error("observability init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	business, err := loadBusinessProfile(cfg)
	if err != nil {
		logger.Error("business profile load failed", "error", err)
		os.Exit(1)
	}

	keys, err := profile.NewKeySet()
	if err != nil {
		logger.Error("signing key generation failed", "error", err)
		os.Exit(1)
	}

	var cache negotiate.Cache = negotiate.NewMemoryCache()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-memory negotiation cache", "error", err)
		} else {
			cache = negotiate.NewRedisCache(client, time.Hour)
			logger.Info("negotiation cache on redis", "addr", cfg.RedisAddr)
		}
	}

	sessionStore, durableIdem, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("session store init failed", "error", err)
		os.Exit(1)
	}

	taxRules, err := tax.NewEvaluator(cfg.TaxExpr)
	if err != nil {
		logger.Error("tax rule rejected", "error", err)
		os.Exit(1)
	}

	demo := catalog.NewDemo()
	hub := events.NewHub()

	engine := checkout.NewEngine(checkout.EngineConfig{
		Store:       sessionStore,
		Negotiator:  negotiate.New(business, cache),
		Catalog:     demo,
		Discounts:   demo,
		Fulfillment: demo,
		Tax:         taxRules,
		Settlements: map[string]payment.Settlement{
			"mock_tokenizer_001": &payment.MockSettlement{},
		},
		Events: hub,
		Signer: profile.NewOrderTokenSigner(keys, cfg.BusinessURL),
		Links: []checkout.Link{
			{Type: "terms_of_service", Href: cfg.BusinessURL + "/terms"},
			{Type: "privacy_policy", Href: cfg.BusinessURL + "/privacy"},
		},
		ContinueBase:        cfg.BusinessURL,
		Currency:            "USD",
		CollaboratorTimeout: cfg.CollaboratorTimeout,
	})

	srv := api.NewServer(api.ServerConfig{
		Engine:    engine,
		Catalog:   demo,
		Tokenizer: payment.NewMockTokenizer(),
		Hub:       hub,
		Business:  business,
		Keys:      keys,
		Metrics:   provider,
	})

	limiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	var idem api.IdempotencyStorer = api.NewIdempotencyStore(idempotencyTTL)
	if durableIdem != nil {
		idem = durableIdem
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(limiter, idem),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ucp engine listening",
			"port", cfg.Port,
			"store", cfg.StoreDriver,
			"discovery", cfg.BusinessURL+"/.well-known/ucp")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func loadBusinessProfile(cfg *config.Config) (*profile.Profile, error) {
	if cfg.BusinessProfilePath == "" {
		return profile.DefaultBusinessProfile(cfg.BusinessURL), nil
	}
	return profile.LoadBusiness(cfg.BusinessProfilePath)
}

// idempotencyTTL bounds how long completed responses replay.
const idempotencyTTL = 24 * time.Hour

// openStores selects the session store from the configured driver. The
// postgres driver also yields a durable idempotency store sharing the
// same database; the other drivers leave it nil and main falls back to
// the in-memory store.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (checkout.Store, api.IdempotencyStorer, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		sessions, err := store.NewSQLiteSessionStore(db)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sessions on sqlite", "path", cfg.SQLitePath)
		return sessions, nil, nil
	case "postgres":
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		sessions, err := store.NewPostgresSessionStore(db)
		if err != nil {
			return nil, nil, err
		}
		idem, err := api.NewPostgresIdempotencyStore(db, idempotencyTTL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sessions and idempotency keys on postgres")
		return sessions, idem, nil
	default:
		logger.Info("sessions in memory")
		return checkout.NewMemoryStore(), nil, nil
	}
}
