package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/disciplina/config"
	"github.com/alejandrodnm/disciplina/internal/adapters/metaapi"
	"github.com/alejandrodnm/disciplina/internal/adapters/notify"
	"github.com/alejandrodnm/disciplina/internal/adapters/storage"
	"github.com/alejandrodnm/disciplina/internal/application/engine"
	"github.com/alejandrodnm/disciplina/internal/application/scheduler"
	"github.com/alejandrodnm/disciplina/internal/domain"
	"github.com/alejandrodnm/disciplina/internal/ports"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	user := flag.String("user", "", "user id the ledger is scoped to (required)")
	account := flag.String("account", "", "broker account id")
	once := flag.Bool("once", false, "run one reconcile+enforce pass and exit")
	syncOnly := flag.Bool("sync", false, "run one reconcile pass (no enforcement) and exit")
	installPlan := flag.Bool("install-plan", false, "install the plan from the config file as active and exit")
	provision := flag.Bool("provision", false, "create and deploy a broker account from env credentials, print its id and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *user == "" {
		slog.Error("missing required -user flag")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	broker := metaapi.NewClient(cfg.Broker.BaseURL, cfg.Broker.Token, cfg.BrokerTimeout())

	if *provision {
		runProvision(ctx, broker)
		return
	}

	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open ledger", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer ledger.Close()

	if *installPlan {
		runInstallPlan(ctx, ledger, cfg, *user)
		return
	}

	if *account == "" {
		slog.Error("missing required -account flag")
		os.Exit(1)
	}

	eng := engine.New(broker, ledger, notify.NewConsole(), engine.Config{
		DealLookback: cfg.DealLookback(),
	})

	slog.Info("guardian starting",
		"config", *configPath,
		"user", *user,
		"account", *account,
		"interval", cfg.Interval(),
		"once", *once,
		"sync", *syncOnly,
	)

	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(cfg.Metrics.ListenAddr)
	}

	sched := scheduler.New(eng, cfg.Interval())

	if *syncOnly {
		n, err := sched.SyncNow(ctx, *user, *account)
		if err != nil {
			slog.Error("sync failed", "err", err)
			os.Exit(1)
		}
		slog.Info("sync complete", "trades_touched", n)
		return
	}

	if *once {
		result, err := eng.Monitor(ctx, *user, *account)
		if err != nil {
			slog.Error("monitor pass failed", "err", err)
			os.Exit(1)
		}
		slog.Info("monitor pass complete",
			"checked", result.Checked, "violated", result.Violated,
			"synced", result.SyncedTrades)
		return
	}

	sched.Start(*user, *account)
	<-ctx.Done()
	sched.Stop()

	slog.Info("guardian stopped cleanly")
}

func runProvision(ctx context.Context, broker *metaapi.Client) {
	creds := ports.AccountCredentials{
		Name:     os.Getenv("BROKER_ACCOUNT_NAME"),
		Login:    os.Getenv("BROKER_LOGIN"),
		Password: os.Getenv("BROKER_PASSWORD"),
		Server:   os.Getenv("BROKER_SERVER"),
		Platform: os.Getenv("BROKER_PLATFORM"),
	}
	if creds.Login == "" || creds.Password == "" || creds.Server == "" {
		slog.Error("provisioning needs BROKER_LOGIN, BROKER_PASSWORD and BROKER_SERVER in the environment")
		os.Exit(1)
	}
	if creds.Platform == "" {
		creds.Platform = "mt5"
	}

	accountID, err := broker.ProvisionAccount(ctx, creds)
	if err != nil {
		slog.Error("provisioning failed", "err", err)
		os.Exit(1)
	}
	slog.Info("account provisioned — pass it with -account", "account", accountID)
}

func runInstallPlan(ctx context.Context, ledger *storage.SQLiteLedger, cfg *config.Config, userID string) {
	if cfg.Plan == nil {
		slog.Error("config has no plan block to install")
		os.Exit(1)
	}

	start, err := domain.ParseTimeOfDay(cfg.Plan.SessionStart)
	if err != nil {
		slog.Error("invalid plan.session_start", "err", err)
		os.Exit(1)
	}
	end, err := domain.ParseTimeOfDay(cfg.Plan.SessionEnd)
	if err != nil {
		slog.Error("invalid plan.session_end", "err", err)
		os.Exit(1)
	}

	plan := domain.TradingPlan{
		UserID:              userID,
		MaxTradesPerDay:     cfg.Plan.MaxTradesPerDay,
		MaxRiskPercent:      cfg.Plan.MaxRiskPercent,
		AllowedSymbols:      cfg.Plan.AllowedSymbols,
		SessionStart:        start,
		SessionEnd:          end,
		MaxDailyLossPercent: cfg.Plan.MaxDailyLossPercent,
		IsActive:            true,
	}
	if err := ledger.SavePlan(ctx, plan); err != nil {
		slog.Error("failed to install plan", "err", err)
		os.Exit(1)
	}
	slog.Info("plan installed as active",
		"user", userID,
		"max_trades_per_day", plan.MaxTradesPerDay,
		"session", plan.SessionStart.String()+"–"+plan.SessionEnd.String(),
		"symbols", plan.AllowedSymbols,
	)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listener started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics listener stopped", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
