package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenOutputCore/internal/config"
	"github.com/KevinKickass/OpenOutputCore/internal/storage"
	"github.com/KevinKickass/OpenOutputCore/internal/storage/memory"
	"github.com/KevinKickass/OpenOutputCore/internal/system"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Logger initialisieren
	var logger *zap.Logger
	if cfg.Log.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	// Lifecycle Manager
	lifecycle, err := system.NewLifecycleManager(store, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create lifecycle manager", zap.Error(err))
	}

	// System starten
	if err := lifecycle.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenOutputCore started successfully")

	// Graceful Shutdown auf Signal oder über die API
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case <-lifecycle.Done():
		logger.Info("OpenOutputCore stopped via API")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		cancel()
		store.Close()
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("OpenOutputCore stopped successfully")
}

func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Database.Backend {
	case "memory":
		store := memory.New(cfg.Outputs.MaxAmps)
		if cfg.Database.SeedFile != "" {
			if err := store.LoadSeedFile(cfg.Database.SeedFile); err != nil {
				return nil, err
			}
			logger.Info("Seed file loaded", zap.String("path", cfg.Database.SeedFile))
		}
		return store, nil

	default:
		// PostgreSQL verbinden
		db, err := storage.NewPostgresClient(cfg.Database, cfg.Outputs.MaxAmps)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("Database connected successfully")
		return db, nil
	}
}
