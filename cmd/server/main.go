package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dataset-scanner/internal/app"
	"dataset-scanner/internal/config"
	"dataset-scanner/internal/handler"
	"dataset-scanner/internal/repository"
	"dataset-scanner/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yml", "path to the YAML config file")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting Dataset Scanner...")

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("Config file not found, using defaults", zap.String("path", *configPath))
		cfg, err = config.DefaultConfig(), nil
	}
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	engine, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize scanner", zap.Error(err))
	}
	defer engine.Close()

	// Initialize repository
	var archive service.ScanArchive
	if cfg.Database.Enabled {
		if cfg.Database.Driver == repository.DriverSQLite {
			if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
				logger.Fatal("Failed to create data directory", zap.Error(err))
			}
		}

		repo, err := repository.OpenScanRepository(cfg.Database.Driver, cfg.DatabaseDSN(), logger)
		if err != nil {
			logger.Fatal("Failed to initialize repository", zap.Error(err))
		}
		defer repo.Close()
		archive = repo
	}

	scans := service.NewScanService(engine.Scanner, archive, logger)
	apiHandler := handler.NewHandler(scans, engine, cfg.Server.MaxUploadBytes, logger)

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(apiHandler, cfg.Server.AllowedOrigins, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("Server starting", zap.String("address", serverAddr))

	// Graceful shutdown
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Dataset Scanner is running",
		zap.String("port", cfg.Server.Port),
		zap.Bool("archive", archive != nil),
		zap.Bool("semantic_outliers", !cfg.Embedding.Disabled))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
