package main

import (
	"context"
	"fmt"

	"github.com/tournevent/shiprouter/internal/address"
	"github.com/tournevent/shiprouter/internal/config"
	"github.com/tournevent/shiprouter/internal/eligibility"
	"github.com/tournevent/shiprouter/internal/events"
	"github.com/tournevent/shiprouter/internal/rates"
	"github.com/tournevent/shiprouter/internal/ratetable"
	"github.com/tournevent/shiprouter/internal/resilience"
	"github.com/tournevent/shiprouter/internal/retryqueue"
	"github.com/tournevent/shiprouter/internal/routing"
	"github.com/tournevent/shiprouter/internal/store"
	"github.com/tournevent/shiprouter/internal/telemetry"
	"github.com/tournevent/shiprouter/internal/tracking"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/tournevent/shiprouter/pkg/shipper/discount"
	"github.com/tournevent/shiprouter/pkg/shipper/market"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return noop.NewTracerProvider().Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
}

func initShipperRegistry(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) *shipper.Registry {
	registry := shipper.NewRegistry()
	registry.Register(discount.New(cfg.Discount(), logger, tracer))
	registry.Register(market.New(cfg.Market(), logger, tracer))
	return registry
}

func initRateTable(cfg *config.Config) (*ratetable.Table, error) {
	if cfg.RateTablePath == "" {
		return ratetable.Default(), nil
	}
	table, err := ratetable.LoadFile(cfg.RateTablePath)
	if err != nil {
		return nil, fmt.Errorf("loading rate table: %w", err)
	}
	return table, nil
}

// storage groups the persistence backends chosen by configuration.
type storage struct {
	audit     resilience.AuditSink
	decisions routing.DecisionStore
	shipments interface {
		routing.ShipmentStore
		tracking.ShipmentStatusUpdater
	}
	events tracking.EventStore
	jobs   retryqueue.Store
	close  func() error
}

// initStorage uses Postgres when a DSN is configured, otherwise memory
// stores with the retry queue persisted to a JSON file when one is set.
func initStorage(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (*storage, error) {
	if cfg.PostgresDSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		jobs := pg.RetryJobs()
		recovered, err := jobs.RecoverProcessing(ctx)
		if err != nil {
			_ = pg.Close()
			return nil, err
		}
		logger.Info("Using Postgres storage", zap.Int64("recovered_jobs", recovered))
		return &storage{audit: pg, decisions: pg, shipments: pg, events: pg, jobs: jobs, close: pg.Close}, nil
	}

	mem := store.NewMemoryStore()
	st := &storage{audit: mem, decisions: mem, shipments: mem, events: mem, close: func() error { return nil }}
	if cfg.RetryStateFile == "" {
		st.jobs = retryqueue.NewMemoryStore()
		return st, nil
	}
	jobs, err := retryqueue.OpenFileStore(cfg.RetryStateFile)
	if err != nil {
		return nil, err
	}
	st.jobs = jobs
	logger.Info("Using in-memory storage", zap.String("retry_state_file", jobs.Path()))
	return st, nil
}

func initPublisher(cfg *config.Config, logger *otelzap.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}
	}
	logger.Info("Publishing events to Kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	return events.NewKafkaPublisher(cfg.KafkaBrokers, logger)
}

// app is the fully wired service.
type app struct {
	router   *routing.Router
	tracking *tracking.Service
	queue    *retryqueue.Queue
	executor *resilience.Executor
	storage  *storage
	pub      events.Publisher
}

func (a *app) Close() error {
	pubErr := a.pub.Close()
	if err := a.storage.close(); err != nil {
		return err
	}
	return pubErr
}

func initApp(ctx context.Context, cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) (*app, error) {
	table, err := initRateTable(cfg)
	if err != nil {
		return nil, err
	}
	st, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	pub := initPublisher(cfg, logger)
	carriers := initShipperRegistry(cfg, logger, tracer)

	queue := retryqueue.New(cfg.Retry(), st.jobs, logger).WithMetrics(metrics)
	exec := resilience.New(cfg.Executor(), logger).
		WithTracer(tracer).
		WithMetrics(metrics).
		WithAudit(st.audit).
		WithQueue(queue)

	router := routing.NewRouter(routing.RouterConfig{}, routing.RouterDeps{
		Engine:     routing.NewEngine(cfg.Engine()),
		Checker:    eligibility.New(cfg.Eligibility()),
		Normalizer: rates.New(cfg.Rates(), table, carriers, logger, metrics),
		Validator:  address.New(address.Config{AllowPOBox: cfg.AllowPOBox}),
		Carriers:   carriers,
		Executor:   exec,
		Decisions:  st.decisions,
		Shipments:  st.shipments,
		Publisher:  pub,
		Topic:      cfg.KafkaDecisionsTopic,
		Logger:     logger,
		Metrics:    metrics,
	})

	trk := tracking.NewService(carriers, exec, nil, st.events, logger).
		WithPublisher(pub, cfg.KafkaTrackingTopic).
		WithShipments(st.shipments).
		WithMetrics(metrics)

	exec.RegisterRetryHandlers(queue, carriers, resilience.RetryHooks{
		OnShipment: func(ctx context.Context, req *shipper.CreateShipmentRequest, res *shipper.ShipmentResult) {
			router.SaveShipment(ctx, req, res)
		},
		OnTracking: func(ctx context.Context, carrier string, res *shipper.TrackingResult) {
			if err := trk.Record(ctx, carrier, res, tracking.SourceRetry); err != nil {
				logger.Ctx(ctx).Error("Recording retried tracking failed", zap.String("carrier", carrier), zap.Error(err))
			}
		},
	})

	return &app{router: router, tracking: trk, queue: queue, executor: exec, storage: st, pub: pub}, nil
}
