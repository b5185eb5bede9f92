package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/kyc"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	var ggeo geo.Geo
	if redisClient != nil {
		ggeo = geo.NewRedisGeo(redisClient, cfg.RedisGeoKey)
	} else {
		ggeo = geo.NewIndex()
	}

	var store storage.Store
	var fares fare.ConfigSource = fare.DefaultRates()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		if cfg.RunMigrations {
			runMigrations(ps.DB(), logger)
		}
		store = ps
		fares = ps
	} else {
		logger.Warn("no PG_DSN configured, using in-memory store")
		store = storage.NewMemoryStore()
	}

	bcLogger := logging.NewComponentLogger(cfg.LogLevel, "broadcast")
	var bc broadcast.Broadcaster
	if redisClient != nil {
		rb := broadcast.NewRedisBroadcaster(redisClient, bcLogger)
		defer rb.Close()
		bc = rb
	} else {
		logger.Warn("no REDIS_ADDR configured, events stay in-process")
		bc = broadcast.NewLocalBroadcaster(bcLogger)
	}

	var locations dispatch.LocationQueue
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		locations = kp
	}

	svc := dispatch.NewService(dispatch.Config{
		Store:            store,
		Geo:              ggeo,
		Fares:            fares,
		Broadcast:        bc,
		Payments:         payments.NewClient(cfg.StripeAPIKey, cfg.FrontendBaseURL),
		KYC:              kyc.NewClient(cfg.KYCEndpoint, logger),
		Locations:        locations,
		Logger:           logger,
		SearchRadiusKm:   cfg.SearchRadiusKm,
		EstimateRadiusKm: cfg.EstimateRadiusKm,
		CancellationFee:  cfg.CancellationFee,
		PaymentTimeout:   cfg.PaymentTimeout,
	})

	srv := httpapi.NewServer(svc, bc,
		auth.NewTokens(cfg.TokenSecret),
		payments.NewWebhook(cfg.StripeWebhookSecret),
		logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func runMigrations(db *sql.DB, logger *slog.Logger) {
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_init.sql")
}
