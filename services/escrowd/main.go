package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gigescrow/core/events"
	"gigescrow/native/access"
	"gigescrow/native/bank"
	nativecommon "gigescrow/native/common"
	"gigescrow/native/orders"
	"gigescrow/observability"
	"gigescrow/observability/logging"
	telemetry "gigescrow/observability/otel"
	"gigescrow/services/escrowd/config"
	"gigescrow/services/escrowd/journal"
	"gigescrow/services/escrowd/recon"
	"gigescrow/services/escrowd/server"
	"gigescrow/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/escrowd/config.yaml", "path to escrowd configuration file (.yaml or .toml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("escrowd: load config: %v", err)
	}
	env := cfg.Environment
	if override := strings.TrimSpace(os.Getenv("ESCROWD_ENV")); override != "" {
		env = override
	}
	logger := logging.Setup("escrowd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("escrowd", env))
	if err != nil {
		log.Fatalf("escrowd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.Storage.Engine, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("escrowd: open storage: %v", err)
	}
	defer db.Close()

	ledger, err := bank.NewLedger(db, cfg.Vault())
	if err != nil {
		log.Fatalf("escrowd: ledger: %v", err)
	}

	roles, err := access.NewRegistry(db)
	if err != nil {
		log.Fatalf("escrowd: access registry: %v", err)
	}
	for _, admin := range cfg.Admins() {
		if _, err := roles.Grant(admin, access.RoleAdmin); err != nil {
			log.Fatalf("escrowd: grant admin %s: %v", admin.Hex(), err)
		}
	}
	for _, judge := range cfg.Adjudicators() {
		if _, err := roles.Grant(judge, access.RoleAdjudicator); err != nil {
			log.Fatalf("escrowd: grant adjudicator %s: %v", judge.Hex(), err)
		}
	}
	sw := nativecommon.NewSwitch(db)

	opts := []orders.Option{
		orders.WithFeeConfig(cfg.FeeConfig()),
		orders.WithPaymentTokens(cfg.PaymentTokens()...),
	}
	if cfg.Orders.MigrateContractorIndex {
		opts = append(opts, orders.WithContractorIndexMigration())
	}
	engine := orders.NewEngine(orders.NewLedgerTransfer(ledger), opts...)
	if err := engine.Restore(db); err != nil {
		log.Fatalf("escrowd: restore orders: %v", err)
	}

	gdb, err := journal.Open(cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("escrowd: %v", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}
	eventJournal, err := journal.New(gdb, logger)
	if err != nil {
		log.Fatalf("escrowd: %v", err)
	}
	if err := eventJournal.Verify(context.Background()); err != nil {
		log.Fatalf("escrowd: %v", err)
	}
	metrics := observability.Orders()
	eventJournal.SetCounter(metrics)
	engine.SetEmitter(events.NewFanout(eventJournal))

	controller := orders.NewController(engine, roles, sw)
	controller.SetObserver(metrics)

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, server.Deps{
		Controller: controller,
		Ledger:     ledger,
		Roles:      roles,
		Journal:    eventJournal,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("escrowd: server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Recon.Disabled {
		reconciler, err := recon.NewReconciler(recon.Config{
			Custody:     ledger,
			Obligations: engine,
			Recorder:    metrics,
			OutputDir:   cfg.Recon.OutputDir,
			Logger:      logger,
		})
		if err != nil {
			log.Fatalf("escrowd: reconciler: %v", err)
		}
		scheduler := recon.NewScheduler(recon.SchedulerConfig{
			Reconciler: reconciler,
			RunHour:    cfg.Recon.RunHour,
			RunMinute:  cfg.Recon.RunMinute,
			Logger:     logger,
		})
		go scheduler.Start(ctx)
	}

	logger.Info("escrowd starting",
		"listen", cfg.ListenAddress,
		"storage", cfg.Storage.Engine,
		"last_order_id", engine.LastOrderID(),
		"running", sw.IsRunning())
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("escrowd stopped")
}
