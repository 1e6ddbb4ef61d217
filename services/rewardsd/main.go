package rewardsd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"viewrewards/core/achievements"
	"viewrewards/core/benefits"
	"viewrewards/core/catalog"
	"viewrewards/core/devices"
	"viewrewards/core/ratings"
	"viewrewards/core/rewards"
	"viewrewards/core/sessions"
	"viewrewards/observability/logging"
	telemetry "viewrewards/observability/otel"
	"viewrewards/settlement"
	"viewrewards/settlement/eventlog"
)

// Main initialises and runs the rewards daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/rewardsd/config.yaml", "path to rewardsd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VIEWREWARDS_ENV"))
	logger := logging.Setup("rewardsd", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "rewardsd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	gateway := settlement.NewLedgerClient(
		cfg.Ledger.Endpoint,
		cfg.Ledger.AuthToken,
		cfg.Ledger.Treasury,
		cfg.Ledger.Timeout.Duration,
	)

	queue := eventlog.NewQueue(
		eventlog.WithTaskCapacity(cfg.Events.QueueCapacity),
		eventlog.WithHistoryCapacity(cfg.Events.HistoryCapacity),
		eventlog.WithTTL(cfg.Events.TTL.Duration),
	)
	worker := eventlog.NewWorker(queue, gateway, cfg.Events.Topic, cfg.Events.DeliveryTimeout.Duration, logger)

	registry := devices.NewRegistry()
	tracker := sessions.NewTracker(cat.Rewards)
	ratingStore := ratings.NewStore()
	benefitLedger := benefits.NewLedger(cat)
	calculator := rewards.NewCalculator(benefitLedger)
	engine := achievements.NewEngine(
		tracker,
		ratingStore,
		benefitLedger,
		gateway,
		queue,
		cat,
		achievements.WithTimeout(cfg.Ledger.Timeout.Duration),
		achievements.WithLogger(logger),
	)

	srv := NewServer(ServerConfig{
		Devices:       registry,
		Sessions:      tracker,
		Ratings:       ratingStore,
		Benefits:      benefitLedger,
		Engine:        engine,
		Calculator:    calculator,
		Gateway:       gateway,
		Queue:         queue,
		Catalog:       cat,
		Treasury:      cfg.Ledger.Treasury,
		SettleTimeout: cfg.Ledger.Timeout.Duration,
		EventTopic:    cfg.Events.Topic,
		Auth:          NewAuthenticator(cfg.Auth, logger),
		AdminScope:    cfg.Auth.AdminScope,
		RateLimits:    cfg.RateLimits,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(srv.Handler(), "rewardsd"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go worker.Run(stopCtx)

	errs := make(chan error, 1)
	go func() {
		logger.Info("rewardsd listening", "addr", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
