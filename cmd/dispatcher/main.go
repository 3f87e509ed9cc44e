package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/artisanflow/internal/blocking"
	"github.com/joao-fontenele/artisanflow/internal/commission"
	"github.com/joao-fontenele/artisanflow/internal/config"
	"github.com/joao-fontenele/artisanflow/internal/matching"
	"github.com/joao-fontenele/artisanflow/internal/memstore"
	"github.com/joao-fontenele/artisanflow/internal/messaging"
	"github.com/joao-fontenele/artisanflow/internal/orchestrator"
	"github.com/joao-fontenele/artisanflow/internal/orders"
	"github.com/joao-fontenele/artisanflow/internal/scheduler"
	"github.com/joao-fontenele/artisanflow/internal/telemetry"
	"github.com/joao-fontenele/artisanflow/internal/worker"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(bootLogger)
	if err != nil {
		bootLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.SlogLevel(), cfg.ServiceName)
	if err := run(cfg, logger); err != nil {
		logger.Error("dispatcher stopped", "error", err)
		os.Exit(1)
	}
}

type ordersStore interface {
	orchestrator.OrderStore
	orders.Reader
}

type artisanStore interface {
	matching.Matcher
	matching.ArtisanDirectory
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracesEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.ServiceVersion)
		if err != nil {
			return err
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	} else {
		telemetry.InstallPropagators()
	}

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	var (
		orderStore ordersStore
		blockStore blocking.Store
		artisans   artisanStore
		tasks      scheduler.TaskRecorder
	)
	if cfg.PostgresURL != "" {
		db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		orderStore, blockStore, artisans, tasks = postgresStores(db)
	} else {
		logger.Warn("POSTGRES_URL not set, using in-memory store")
		mem := memstore.New(nil)
		orderStore, blockStore, artisans, tasks = mem, mem, mem, mem
	}

	var notifier orchestrator.Notifier = messaging.NewLogNotifier(logger)
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.OutboundTopic)
		defer func() { _ = producer.Close() }()
		notifier = messaging.NewChatNotifier(producer, nil, logger)
	} else {
		logger.Warn("KAFKA_BROKERS not set, chat messages go to the log")
	}

	sched := scheduler.New(scheduler.RealClock(), cfg.SchedulerTiming(), tasks, logger)
	ledger := blocking.NewLedger(blockStore, nil, logger)
	orch, err := orchestrator.New(orchestrator.Deps{
		Orders:      orderStore,
		Ledger:      ledger,
		Notifier:    notifier,
		Inviter:     matching.NewFanOut(artisans, notifier, cfg.Matching(), logger),
		Scheduler:   sched,
		Calculator:  commission.NewDefaultCalculator(),
		Policy:      orchestrator.DefaultPolicy(),
		PaymentCard: cfg.PaymentCard,
		Admins:      cfg.AdminIDs,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if _, err := orch.Recover(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	orders.NewHandler(orch, orderStore, logger).Register(mux, telemetry.WithHTTPRoute)

	blockHandler := blocking.NewHandler(ledger, logger)
	mux.HandleFunc("GET /accounts/{kind}/{id}/block", telemetry.WithHTTPRoute(blockHandler.HandleStatus))
	mux.HandleFunc("GET /accounts/{kind}/{id}/blocks", telemetry.WithHTTPRoute(blockHandler.HandleHistory))
	mux.HandleFunc("POST /accounts/{kind}/{id}/unblock", telemetry.WithHTTPRoute(blockHandler.HandleUnblock))

	artisanHandler := matching.NewHandler(artisans, logger)
	mux.HandleFunc("POST /artisans", telemetry.WithHTTPRoute(artisanHandler.HandleUpsert))

	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, cfg.ServiceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting dispatcher", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		consumer := messaging.NewConsumer(cfg.KafkaBrokers, cfg.ActionsTopic, cfg.ConsumerGroup, logger)
		actions := worker.NewActionHandler(orch, notifier, logger)
		g.Go(func() error {
			defer func() { _ = consumer.Close() }()
			logger.Info("consuming chat actions", "topic", cfg.ActionsTopic, "brokers", cfg.KafkaBrokers)
			if err := consumer.Consume(gctx, actions.Handle); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func postgresStores(db *sql.DB) (ordersStore, blocking.Store, artisanStore, scheduler.TaskRecorder) {
	return orders.NewOrderRepository(db),
		blocking.NewBlockRepository(db),
		matching.NewArtisanRepository(db),
		scheduler.NewTaskRepository(db)
}
