package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beacontrace/internal/api"
	"beacontrace/internal/config"
	"beacontrace/internal/contactlog"
	"beacontrace/internal/device"
	"beacontrace/internal/logging"
	"beacontrace/internal/radio"
	"beacontrace/internal/registry"
	"beacontrace/internal/risk"
	"beacontrace/internal/storage"
	syncclient "beacontrace/internal/sync"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to yaml or json config file")
	flag.Parse()

	var mgr *config.Manager
	var err error
	if *configPath != "" {
		mgr, err = config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	log := contactlog.New(store, logger)
	if store != nil {
		since := time.Now().UTC().Add(-cfg.Beacon.Retention)
		contacts, err := store.LoadContacts(ctx, since)
		if err != nil {
			logger.Warn("contact history load failed", "err", err)
		} else if len(contacts) > 0 {
			log.Restore(contacts)
			logger.Info("contact history restored", "contacts", len(contacts))
		}
	}
	engine := risk.NewEngine(cfg, log, store, logger)
	reg := registry.NewMemory()
	sc := syncclient.NewHTTPClient(cfg.Sync, logger)

	var port radio.Port
	switch cfg.Radio.Driver {
	case "loopback":
		port = radio.NewHub().NewPort()
	default:
		logger.Error("unknown radio driver", "driver", cfg.Radio.Driver)
		os.Exit(1)
	}

	dev := device.New(mgr, reg, sc, port, log, engine, logger)
	if err := dev.Start(ctx); err != nil {
		logger.Error("device start failed", "err", err)
		os.Exit(1)
	}

	api.Start(ctx, mgr, log, engine, dev, logger, version)

	stop := make(chan struct{})
	go mgr.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded")
		engine.UpdateConfig(next)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", "signal", s.String())
	close(stop)
	cancel()
	time.Sleep(200 * time.Millisecond)
}
