package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/nasguard/internal/config"
	"github.com/HerbHall/nasguard/internal/event"
	"github.com/HerbHall/nasguard/internal/inventory"
	"github.com/HerbHall/nasguard/internal/monitor"
	"github.com/HerbHall/nasguard/internal/mqtt"
	"github.com/HerbHall/nasguard/internal/outbox"
	"github.com/HerbHall/nasguard/internal/probe"
	"github.com/HerbHall/nasguard/internal/provision"
	"github.com/HerbHall/nasguard/internal/registry"
	"github.com/HerbHall/nasguard/internal/server"
	"github.com/HerbHall/nasguard/internal/snmp"
	"github.com/HerbHall/nasguard/internal/store"
	"github.com/HerbHall/nasguard/internal/version"
	"github.com/HerbHall/nasguard/internal/webhook"
	"github.com/HerbHall/nasguard/internal/ws"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, logLevel, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("nasguard starting", zap.String("go_version", version.Map()["go_version"]))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}
	logger.Debug("effective configuration",
		zap.String("component", "config"),
		zap.Any("settings", cfg.Redacted()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open database
	dbPath := viperCfg.GetString("database.path")
	if dbPath == "" {
		dbPath = "nasguard.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}
	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	// Out-of-band device sources for the monitor.
	monitorCfg, err := monitor.LoadConfig(cfg.Sub("plugins.monitor"))
	if err != nil {
		logger.Fatal("invalid monitor configuration", zap.Error(err))
	}
	var monitorOpts []monitor.Option
	if monitorCfg.SNMPEnabled {
		monitorOpts = append(monitorOpts, monitor.WithMetricsCollector(
			snmp.NewCollector(monitorCfg.SNMPPort, monitorCfg.SNMPTimeout, logger.Named("snmp"))))
	}
	if monitorCfg.ProbeBeforeConnect {
		monitorOpts = append(monitorOpts, monitor.WithProber(probe.New(probe.Config{
			Count:   monitorCfg.ProbeCount,
			Timeout: monitorCfg.ProbeTimeout,
		}, logger.Named("probe"))))
	}

	invMod := inventory.New()
	outboxMod := outbox.New()
	monitorMod := monitor.New(monitorOpts...)

	// Register all plugins (compile-time composition)
	modules := []plugin.Plugin{
		invMod,
		outboxMod,
		monitorMod,
		mqtt.New(),
		webhook.New(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}

	if err := reg.Validate(); err != nil {
		logger.Fatal("plugin validation failed", zap.Error(err))
	}

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	extraRoutes := []server.RouteRegistrar{server.LogLevelRoute(logLevel)}

	// Mutations try the device's live session before falling back to the outbox.
	if mon := monitorMod.Monitor(); mon != nil && outboxMod.Service() != nil {
		dispatcher := provision.NewDispatcher(
			invMod.Store(),
			mon,
			outboxMod.Service(),
			monitorMod.Engine().Cache(),
			logger.Named("provision"),
		)
		extraRoutes = append(extraRoutes,
			provision.NewHandler(dispatcher, logger.Named("provision")),
			ws.NewHandler(mon, bus, logger.Named("ws"),
				ws.WithPinnedInterfaces(monitorCfg.DefaultInterfaces...)),
		)
		logger.Info("provisioning and event stream enabled", zap.String("component", "server"))
	} else {
		logger.Warn("device monitor unavailable; provisioning and event stream disabled",
			zap.String("component", "server"),
		)
	}

	addr := viperCfg.GetString("server.host") + ":" + viperCfg.GetString("server.port")
	if addr == ":" {
		addr = "0.0.0.0:8080"
	}
	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return db.Ping(ctx)
	})
	srv := server.New(addr, reg, logger, readyCheck, extraRoutes...)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("nasguard ready", zap.String("addr", addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	reg.StopAll(shutdownCtx)
	bus.Wait()

	logger.Info("nasguard stopped")
}

func printVersion() {
	info := version.Map()
	fmt.Printf("nasguard %s (commit %s, built %s, %s)\n",
		info["version"], info["git_commit"], info["build_date"], info["go_version"])
}
