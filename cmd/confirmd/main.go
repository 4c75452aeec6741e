package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confirmd/confirmd/internal/adapter/cached"
	"github.com/confirmd/confirmd/internal/adapter/email"
	cfnats "github.com/confirmd/confirmd/internal/adapter/nats"
	"github.com/confirmd/confirmd/internal/adapter/natskv"
	"github.com/confirmd/confirmd/internal/adapter/otel"
	"github.com/confirmd/confirmd/internal/adapter/postgres"
	"github.com/confirmd/confirmd/internal/adapter/ristretto"
	"github.com/confirmd/confirmd/internal/adapter/sms"
	"github.com/confirmd/confirmd/internal/adapter/tiered"
	"github.com/confirmd/confirmd/internal/adapter/ws"
	"github.com/confirmd/confirmd/internal/clock"
	"github.com/confirmd/confirmd/internal/config"
	"github.com/confirmd/confirmd/internal/domain/automation"
	"github.com/confirmd/confirmd/internal/domain/escalation"
	"github.com/confirmd/confirmd/internal/domain/timeout"
	"github.com/confirmd/confirmd/internal/logger"
	"github.com/confirmd/confirmd/internal/middleware"
	"github.com/confirmd/confirmd/internal/port/notifier"
	"github.com/confirmd/confirmd/internal/scheduler"
	"github.com/confirmd/confirmd/internal/secrets"
	"github.com/confirmd/confirmd/internal/service"
)

func main() {
	rollback := flag.Int("rollback", 0, "roll back N migrations and exit")
	flag.Parse()

	if err := run(*rollback); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(rollback int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"timeout_check_interval", cfg.Timeout.CheckInterval,
	)

	shutdownTracer := otel.InitTracer(cfg.Logging.Service)
	defer func() { _ = shutdownTracer(context.Background()) }()

	vault, err := secrets.NewVault(secrets.EnvLoader(
		"CONFIRMD_SMTP_PASSWORD",
		"CONFIRMD_SMS_API_KEY",
	))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if rollback > 0 {
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, rollback); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		slog.Info("migrations rolled back", "steps", rollback)
		return nil
	}

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN); err == nil {
		slog.Info("migrations applied", "version", v)
	}

	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	kv, err := queue.KeyValue(ctx, "confirm-cache", cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("cache kv: %w", err)
	}
	confirmCache := tiered.New(l1, natskv.New(kv), cfg.Cache.TTL)

	// --- Stores ---

	confirms := cached.NewConfirmStore(postgres.NewConfirmStore(pool), confirmCache, cfg.Cache.TTL)
	instances := postgres.NewInstanceStore(pool)
	timeoutRules := postgres.NewRuleStore[timeout.Rule](pool, "timeout")
	escalationRules := postgres.NewRuleStore[escalation.Rule](pool, "escalation")
	automationRules := postgres.NewRuleStore[automation.Rule](pool, "automation")

	// --- Delivery ---

	hub := ws.NewHub()
	senders := []notifier.ChannelSender{
		ws.NewSender(hub),
		email.NewSender(email.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			From:     cfg.SMTP.From,
			Password: vault.Get("CONFIRMD_SMTP_PASSWORD"),
			Domain:   cfg.SMTP.Domain,
		}),
		sms.NewSender(sms.Config{
			GatewayURL: cfg.SMS.GatewayURL,
			APIKey:     vault.Get("CONFIRMD_SMS_API_KEY"),
			From:       cfg.SMS.From,
		}),
	}

	clk := clock.System{}
	notifySvc := service.NewNotificationService(senders, clk)
	events := service.NewConfirmEventManager(confirms, notifySvc, hub, clk)

	// Mirror every lifecycle event onto the message queue.
	bridge := cfnats.NewEventBridge(queue)
	events.RegisterHandler(service.Handler{
		ID:       "nats-bridge",
		Priority: 100,
		Fn:       bridge.Publish,
	})

	// --- Services ---

	timeouts := service.NewTimeoutService(timeoutRules, confirms, clk, service.TimeoutDefaults{
		Timeout:           cfg.Timeout.Default,
		WarningThresholds: cfg.Timeout.WarningThresholds,
		Action:            timeout.Action(cfg.Timeout.Action),
	})
	escalations := service.NewEscalationEngine(escalationRules, instances, confirms, notifySvc, events, clk)
	automations := service.NewAutomationService(automationRules, confirms, timeouts, escalations, notifySvc, events, clk, automation.Weights{
		Base:     cfg.Automation.BaseConfidence,
		Expired:  cfg.Automation.ExpiredWeight,
		Critical: cfg.Automation.CriticalWeight,
		Warning:  cfg.Automation.WarningWeight,
		Urgent:   cfg.Automation.UrgentWeight,
		High:     cfg.Automation.HighWeight,
		Low:      cfg.Automation.LowWeight,
	})
	confirmSvc := service.NewConfirmService(confirms, timeouts, escalations, events, clk)

	// --- Background processing ---

	sched := scheduler.New()
	defer sched.Stop()
	if cfg.Timeout.AutoProcess {
		sched.Repeat(ctx, "timeout-sweep", cfg.Timeout.CheckInterval, confirmSvc.ProcessTimeouts)
	}
	sched.Repeat(ctx, "escalation-advance", cfg.Escalation.ProcessInterval, escalations.Process)
	if cfg.Automation.Enabled {
		sched.Repeat(ctx, "automation", cfg.Automation.ProcessInterval, automations.ProcessAll)
	}

	// --- HTTP ---

	rl := middleware.NewRateLimiter(5, 10)
	stopCleanup := rl.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(queue))
	mux.Handle("/ws", rl.Handler(http.HandlerFunc(hub.HandleWS)))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.RequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports service health.
func healthHandler(queue interface{ IsConnected() bool }) http.HandlerFunc {
	type healthStatus struct {
		Status string `json:"status"`
		NATS   bool   `json:"nats_connected"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status: "ok",
			NATS:   queue.IsConnected(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
