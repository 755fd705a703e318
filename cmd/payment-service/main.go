package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cargoquote/payments/internal/config"
	"github.com/cargoquote/payments/internal/gateway"
	payapp "github.com/cargoquote/payments/internal/payment/application"
	"github.com/cargoquote/payments/internal/payment/domain"
	payhttp "github.com/cargoquote/payments/internal/payment/infrastructure/http"
	paykafka "github.com/cargoquote/payments/internal/payment/infrastructure/kafka"
	paypg "github.com/cargoquote/payments/internal/payment/infrastructure/postgres"
	quotepg "github.com/cargoquote/payments/internal/quote/postgres"
	"github.com/cargoquote/payments/internal/session"
	whapp "github.com/cargoquote/payments/internal/webhook/application"
	whhttp "github.com/cargoquote/payments/internal/webhook/infrastructure/http"
	whpg "github.com/cargoquote/payments/internal/webhook/infrastructure/postgres"
	"github.com/cargoquote/payments/pkg/idempotency"
	"github.com/cargoquote/payments/pkg/logging"
	"github.com/cargoquote/payments/pkg/outbox"
	"github.com/cargoquote/payments/pkg/ratelimit"
	"github.com/cargoquote/payments/pkg/shutdown"
	"github.com/cargoquote/payments/pkg/tracing"
)

func main() {
	log := logging.New()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg := config.Load()

	tp, err := tracing.Init(ctx, "payment-service", cfg.OTLPAddr, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	// Kafka producer + outbox relay
	writer := paykafka.NewWriter([]string{cfg.KafkaAddr})
	defer writer.Close()

	outboxStore := paypg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, "payment-service-relay")

	// Gateway adapters
	registry := gateway.NewRegistry(
		gateway.NewCardAdapter(log, cfg.Card),
		gateway.NewHashAdapter(log, domain.GatewayPayFast, cfg.HashGateways[domain.GatewayPayFast]),
		gateway.NewHashAdapter(log, domain.GatewayPayHash, cfg.HashGateways[domain.GatewayPayHash]),
		gateway.NewHostedWalletAdapter(log, cfg.HostedWallet),
		gateway.NewManualAdapter(domain.GatewayBankTransfer),
		gateway.NewManualAdapter(domain.GatewayCashOnDelivery),
	)

	// Application services
	ledger := paypg.NewRepository(log, pool)
	quotes := quotepg.NewStore(log, pool)
	sessions := session.NewValidator(log, rdb, cfg.AuthIntrospectURL)
	limiter := ratelimit.New(rdb, "rl:payments", 10, time.Minute)
	orchestrator := payapp.NewOrchestrator(log, ledger, quotes, sessions, limiter, registry)

	events := whpg.NewStore(log, pool)
	dedup := idempotency.NewStore(rdb, 48*time.Hour)
	verifier := whapp.NewVerifier(cfg)
	reconciler := whapp.NewReconciler(log, events, ledger, dedup)

	paymentHandler := payhttp.NewHandler(log, orchestrator)
	webhookHandler := whhttp.NewHandler(log, verifier, reconciler, cfg.CheckoutSuccessURL, cfg.CheckoutFailureURL)

	// HTTP server
	r := chi.NewRouter()
	r.Mount("/", paymentHandler.Routes())
	r.Mount("/callbacks", webhookHandler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	// Run relay
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	// Run HTTP
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("payment-service shutdown complete")
}
