package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/ingestagent/internal/config"
	"github.com/harrison/ingestagent/internal/logger"
	"github.com/harrison/ingestagent/internal/models"
)

// getenv is replaced in tests.
var getenv = os.Getenv

// loadConfig resolves, loads and validates the configuration named by the
// persistent flags. Failures are fatal.
func loadConfig(cmd *cobra.Command, merge func(*config.Config) error) (*config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	profile, _ := cmd.Flags().GetString("profile")

	path, err := config.ResolvePath(explicit, profile, getenv)
	if err != nil {
		return nil, &models.FatalError{Reason: "cannot resolve configuration", Err: err}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, &models.FatalError{Reason: "cannot load configuration " + path, Err: err}
	}
	cfg.ApplyEnv(getenv)

	var logLevelPtr *string
	if cmd.Flags().Changed("log-level") {
		level, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &level
	}
	cfg.MergeWithFlags(nil, logLevelPtr, nil)

	if merge != nil {
		if err := merge(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &models.FatalError{Reason: "invalid configuration " + path, Err: err}
	}
	return cfg, nil
}

// newLogger builds the console logger and, when cfg.LogDir is set, a file
// logger next to it. The returned closer flushes the file logger.
func newLogger(cfg *config.Config, out io.Writer) (logger.Logger, func(), error) {
	console := logger.NewConsoleLogger(out, cfg.LogLevel)
	if cfg.LogDir == "" {
		return console, func() {}, nil
	}

	file, err := logger.NewFileLoggerWithLevel(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	return logger.NewMultiLogger(console, file), func() { _ = file.Close() }, nil
}
