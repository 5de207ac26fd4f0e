package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/franckalain/foodlens/internal/config"
	"github.com/franckalain/foodlens/internal/database"
	"github.com/franckalain/foodlens/internal/logging"
	"github.com/franckalain/foodlens/internal/ml"
	"github.com/franckalain/foodlens/internal/server"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load environment")
	}

	configPath := flag.String("config", config.GetConfigPath(), "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.Setup(cfg)

	// Initialize database
	db, err := database.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize ML backend
	model, err := ml.NewModel(ml.Options{
		Type:       cfg.ML.Type,
		Endpoint:   cfg.ML.Endpoint,
		Timeout:    time.Duration(cfg.ML.TimeoutSeconds) * time.Second,
		ConfigPath: cfg.ML.ConfigPath,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create ML model")
	}

	if err := model.Load(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load ML model")
	}
	if closer, ok := model.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// Initialize and start server
	srv := server.New(db, model, server.Options{
		StaticDir:      cfg.Server.StaticDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AllowedOrigin:  cfg.Server.AllowedOrigin,
		TokenSecret:    cfg.Auth.JWTSecret,
	}, logger)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("No JWT secret configured, server-side history is disabled")
	}
	if err := srv.Start(cfg.Server.Port); err != nil {
		logger.Error().Err(err).Msg("Server stopped with error")
		db.Close()
		os.Exit(1)
	}
}
