package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/warble-im/warble/internal/app"
	"github.com/warble-im/warble/internal/client"
	"github.com/warble-im/warble/internal/config"
	"github.com/warble-im/warble/internal/logging"
	"github.com/warble-im/warble/internal/secrets"
	"github.com/warble-im/warble/internal/settings"
	"github.com/warble-im/warble/internal/storage/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	paths, err := config.GetPaths()
	if err != nil {
		log.Fatalf("Failed to resolve paths: %v", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = filepath.Join(paths.CacheDir, "warble.log")
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		File:       logFile,
		Console:    cfg.Logging.Console,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger := logging.Default()

	store, err := settings.Open(filepath.Join(paths.ConfigDir, "settings.toml"))
	if err != nil {
		log.Fatalf("Failed to open settings: %v", err)
	}

	codec, err := secrets.OpenCodec(filepath.Join(paths.ConfigDir, "secret.key"))
	if err != nil {
		log.Fatalf("Failed to open secret key: %v", err)
	}

	dataDir := cfg.General.DataDir
	if dataDir == "" {
		dataDir = paths.DataDir
	}
	db, err := sqlite.New(dataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if cfg.Storage.VacuumOnStartup {
		if err := db.Vacuum(); err != nil {
			logger.Warn("vacuum failed: %v", err)
		}
	}

	application, err := app.New(app.Options{
		Settings: store,
		Codec:    codec,
		Storage:  db,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer application.Close()

	application.Subscribe(app.EventConnectionState, func(event app.EventMsg) {
		if state, ok := event.Data.(client.ConnectionState); ok {
			logger.Info("connection state: %s", state)
		}
	})
	application.Subscribe(app.EventConnectionError, func(event app.EventMsg) {
		if data, ok := event.Data.(app.ConnectionErrorData); ok && data.Error != client.ErrNone {
			logger.Error("connection error: %s", data.Error)
		}
	})
	application.Subscribe(app.EventCredentialsNeeded, func(event app.EventMsg) {
		logger.Info("no stored credentials; waiting for login")
	})
	application.Subscribe(app.EventAccountDeletedFromClient, func(event app.EventMsg) {
		if data, ok := event.Data.(app.AccountDeletedData); ok {
			logger.Info("account %s removed from this client", data.JID)
		}
	})

	if cfg.General.AutoLogin {
		application.LogIn()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	application.LogOut(true)
}
