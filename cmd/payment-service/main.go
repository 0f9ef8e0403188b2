package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/agrimarket/payment-service/internal/config"
	orderpg "github.com/agrimarket/payment-service/internal/order/infrastructure/postgres"
	"github.com/agrimarket/payment-service/internal/payment/application"
	paymenthttp "github.com/agrimarket/payment-service/internal/payment/infrastructure/http"
	"github.com/agrimarket/payment-service/internal/payment/infrastructure/mpesa"
	paymentpg "github.com/agrimarket/payment-service/internal/payment/infrastructure/postgres"
	"github.com/agrimarket/payment-service/pkg/idempotency"
	"github.com/agrimarket/payment-service/pkg/logging"
	"github.com/agrimarket/payment-service/pkg/outbox"
	"github.com/agrimarket/payment-service/pkg/shutdown"
	"github.com/agrimarket/payment-service/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "payment-service", cfg.Tracing.Endpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := paymentpg.Migrate(ctx, pool); err != nil {
		log.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	redisDB := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisDB.Close()
	dedup := idempotency.NewStore(redisDB, cfg.Redis.DedupTTL)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Addr),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	defer writer.Close()

	repo := paymentpg.NewRepository(log, pool)
	orders := orderpg.NewRepository(log, pool)
	gateway := mpesa.NewClient(log, mpesa.Credentials{
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		CallbackURL:    cfg.Mpesa.CallbackURL,
		AuthURL:        cfg.Mpesa.AuthURL,
		STKPushURL:     cfg.Mpesa.STKPushURL,
		TestMode:       cfg.Mpesa.TestMode,
	}, cfg.Mpesa.AuthTimeout, cfg.Mpesa.PushTimeout)

	svc := application.NewService(log, repo, orders, gateway, dedup, cfg.Mpesa.CountryPrefix)

	// Outbox relay for payment lifecycle events
	dispatch := outbox.NewDispatcher(log, writer, cfg.Kafka.Topic)
	store := paymentpg.NewOutboxStore(log, pool)
	relay := outbox.NewRelay(log, store, dispatch, "payment-service-relay")
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped", "err", err)
		}
	}()

	handler := paymenthttp.NewHandler(log, svc)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", cfg.Server.Addr, "test_mode", cfg.Mpesa.TestMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := server.Shutdown(drainCtx); err != nil {
		log.Error("http drain failed", "err", err)
	}
	log.Info("payment-service shutdown")
}
