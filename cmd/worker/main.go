// Command worker runs the registry sync pipeline: it subscribes to the
// upload channel, drives each batch through the external training registry,
// and serves the ops HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"trainsync/internal/alert"
	"trainsync/internal/certificate"
	"trainsync/internal/certificate/store"
	"trainsync/internal/notify"
	"trainsync/internal/platform/chrome"
	"trainsync/internal/platform/config"
	"trainsync/internal/platform/httpserver"
	"trainsync/internal/platform/logger"
	"trainsync/internal/platform/postgres"
	"trainsync/internal/platform/redis"
	"trainsync/internal/registry"
	"trainsync/internal/sync/metrics"
	"trainsync/internal/sync/queue"
	"trainsync/internal/sync/report"
	"trainsync/internal/sync/worker"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TraceStdout {
		shutdown, err := setupTracing()
		if err != nil {
			return fmt.Errorf("set up tracing: %w", err)
		}
		defer shutdown()
	}

	rdb, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	pool, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	browser := chrome.NewClient(cfg.Chrome.DevToolsURL)
	m := metrics.New()

	mailer := notify.NewSMTPMailer(cfg.SMTP)
	notifier := notify.New(mailer, cfg.Company, cfg.SMTP.OperatorAddrs, log)

	var alerter alert.Alerter = alert.Noop{}
	var legs alert.Fanout
	if len(cfg.Kafka.Brokers) > 0 {
		ka, err := alert.NewKafkaAlerter(cfg.Kafka, log)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer ka.Close()
		legs = append(legs, ka)
	}
	if len(cfg.SMTP.OperatorAddrs) > 0 {
		legs = append(legs, &alert.MailAlerter{Notifier: notifier, Log: log})
	}
	if len(legs) > 0 {
		alerter = legs
	}

	rasterizer := certificate.NewChromeRasterizer(browser)
	renderer := certificate.NewRenderer(cfg.TemplatePath, cfg.AssetDir, rasterizer)
	certSvc, err := certificate.New(renderer, store.NewPostgresStore(pool), certificate.WithLogger(log))
	if err != nil {
		return fmt.Errorf("build certificate service: %w", err)
	}

	dialer := registry.NewBrowserDialer(browser, cfg.Registry, log)
	reporter := report.NewReporter(notifier, alerter, m, log)
	q := queue.New(m, alerter, log)

	w, err := worker.New(q.Inbox(), dialer, certSvc, reporter, alerter, m,
		worker.WithLogger(log),
		worker.WithHeadshotDir(cfg.HeadshotDir),
	)
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}

	ops := httpserver.New(cfg.OpsAddr, map[string]httpserver.HealthChecker{
		"redis":    rdb,
		"postgres": pool,
	})

	log.Info("trainsync worker starting",
		"channel", cfg.Redis.Channel,
		"ops_addr", cfg.OpsAddr,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.Subscribe(ctx, rdb, cfg.Redis.Channel)
	})
	g.Go(func() error {
		return w.Run(ctx)
	})
	g.Go(func() error {
		if err := ops.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return ops.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setupTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Warn("tracer provider shutdown", "error", err)
		}
	}, nil
}
