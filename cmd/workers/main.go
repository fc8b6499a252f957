package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Dnhatsave/alfresco-cloud-sign/internal/audit"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/config"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/janitor"
	"github.com/Dnhatsave/alfresco-cloud-sign/internal/signing"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var purger janitor.Purger
	if cfg.Storage.Driver == "s3" {
		gdb, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		recorder, err := audit.NewGormRecorder(gdb, logger)
		if err != nil {
			logger.Fatal("Failed to initialise audit recorder", zap.Error(err))
		}
		purger = recorder
	}

	tempDir := cfg.Signing.TempDir
	if tempDir == "" {
		tempDir = signing.DefaultTempDir()
	}

	j := janitor.New(janitor.Config{
		TempDir:         tempDir,
		Schedule:        cfg.Workers.JanitorSchedule,
		WorkspaceMaxAge: cfg.Workers.WorkspaceMaxAge.Std(),
		AuditRetention:  cfg.Workers.AuditRetention.Std(),
	}, purger, logger)

	if err := j.Start(ctx); err != nil {
		logger.Fatal("Failed to start janitor", zap.Error(err))
	}

	<-ctx.Done()
	j.Stop()
	logger.Info("Worker exiting")
}
