package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/franckalain/foodlens/internal/config"
)

// Setup configures the global zerolog logger from the logging section and
// returns it. Debug mode on the server forces debug level.
func Setup(cfg *config.Config) zerolog.Logger {
	return setup(cfg, os.Stderr)
}

func setup(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Server.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	w := out
	if !cfg.Logging.JSON {
		w = zerolog.ConsoleWriter{Out: out}
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	log.Logger = logger

	if err != nil {
		logger.Warn().Str("invalid_level", cfg.Logging.Level).Msg("Invalid log level, using info")
	}
	return logger
}
