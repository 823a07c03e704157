package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"flightdelay/artifact"
	"flightdelay/config"
	"flightdelay/db"
	fhttp "flightdelay/http"
	"flightdelay/logging"
	"flightdelay/ml"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	version := flag.String("version", "", "serve this artifact version instead of CURRENT")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger is not configured yet
		zap.NewExample().Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
	}

	logger, err := logging.Init(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("failed to init logger", zap.Error(err))
	}

	// 2. Initialize database
	if err := db.InitDB(cfg.Database.Path); err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Load the model bundle
	store := artifact.NewStore(cfg.Artifacts.Dir, cfg.Artifacts.ONNX)
	ctx := context.Background()
	var bundle *artifact.Bundle
	if *version != "" {
		bundle, err = store.LoadVersion(ctx, *version)
	} else {
		bundle, err = store.Load(ctx)
	}
	if err != nil {
		logger.Fatal("failed to load model bundle", zap.String("dir", cfg.Artifacts.Dir), zap.Error(err))
	}
	meta := bundle.Metadata()
	logger.Info("model bundle loaded",
		zap.String("version", meta.Version),
		zap.String("classifier", meta.ClassifierKind),
		zap.String("schema_version", meta.SchemaVersion))

	// 4. Start HTTP server
	server, err := fhttp.NewServer(fhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		CacheSize:      cfg.HTTP.CacheSize,
		LogPredictions: cfg.Database.LogPredictions,
	}, bundle)
	if err != nil {
		logger.Fatal("failed to create HTTP server", zap.Error(err))
	}
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	err = multierr.Combine(server.Stop(), db.Close())
	if onnx, ok := bundle.Classifier().(*ml.ONNXClassifier); ok {
		onnx.Destroy()
	}
	if err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
	}
	logger.Info("exiting")
	_ = logging.Sync()
}
