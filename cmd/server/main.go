package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-engine/internal/config"
	"storefront-engine/internal/database"
	"storefront-engine/internal/infrastructure/idempotency"
	"storefront-engine/internal/infrastructure/payment"
	"storefront-engine/internal/logging"
	"storefront-engine/internal/metrics"
	"storefront-engine/internal/outbox"
	"storefront-engine/internal/repo"
	"storefront-engine/internal/server"
	"storefront-engine/internal/service"
	"storefront-engine/internal/tracing"
	"storefront-engine/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	serviceName     = "storefront-engine"
	webhookDedupTTL = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("storefront engine stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: serviceName,
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		Insecure:    cfg.TraceInsecure,
		SampleRatio: cfg.TraceSampleRatio,
		Writer:      os.Stdout,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("flush traces", "err", err)
		}
	}()

	db, err := database.NewPostgres(cfg.DB.URL())
	if err != nil {
		return err
	}
	dbService := database.New(db, cfg.DB.Database, log)
	defer dbService.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := repo.NewPostgresStore(db)
	gateway := newGateway(cfg, log)
	dedup := newDedup(ctx, cfg, log)

	orders := service.NewOrderService(store, gateway, log, cfg.PaymentWindow)
	finalizer := service.NewOrderFinalizer(store, log, m)
	canceller := service.NewCancellationCoordinator(store, gateway, log, m, cfg.RefundLease)
	payments := service.NewPaymentService(gateway, finalizer, canceller, dedup, log)

	sweeper := worker.NewExpirySweeper(store, log, m, cfg.SweepInterval, cfg.SweepBatch)
	go sweeper.Run(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		writer := outbox.NewKafkaWriter(cfg.KafkaBrokers)
		defer writer.Close()
		relay := outbox.NewRelay(log, store.Outbox(), outbox.NewDispatcher(log, writer, cfg.KafkaTopic), serviceName+"-relay")
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("outbox relay stopped with error", "err", err)
			}
		}()
	} else {
		log.Warn("KAFKA_BROKERS not set, order events stay in the outbox table")
	}

	srv := server.New(server.Options{
		Port:           cfg.Port,
		Log:            log,
		DB:             dbService,
		Orders:         orders,
		Payments:       payments,
		Metrics:        m,
		AllowedOrigins: cfg.AllowedOrigins,
	}).HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", srv.Addr, "gateway", cfg.GatewayMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("storefront engine shutdown complete")
	return nil
}

func newGateway(cfg config.Config, log *slog.Logger) payment.Gateway {
	if cfg.GatewayMode == "sandbox" {
		log.Warn("using sandbox payment gateway")
		return payment.NewSandbox(cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)
	}
	return payment.NewRazorpayClient(payment.RazorpayConfig{
		BaseURL:       cfg.RazorpayBaseURL,
		KeyID:         cfg.RazorpayKeyID,
		KeySecret:     cfg.RazorpayKeySecret,
		WebhookSecret: cfg.RazorpayWebhookSecret,
	})
}

func newDedup(ctx context.Context, cfg config.Config, log *slog.Logger) idempotency.Store {
	if cfg.RedisAddr == "" {
		return idempotency.NewMemoryStore(webhookDedupTTL)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, webhook dedup is process-local", "addr", cfg.RedisAddr, "err", err)
		return idempotency.NewMemoryStore(webhookDedupTTL)
	}
	return idempotency.NewRedisStore(rdb, webhookDedupTTL)
}
