package main

import (
	"fmt"
	"log/slog"

	"github.com/duo-workflow-bridge/bridge/pkg/bridgeconfig"
	"github.com/duo-workflow-bridge/bridge/pkg/bridgelog"
)

// initLogger applies CLI-flag > env-var > config-file > default
// precedence for the log level and installs it as the package logger.
func initLogger(cliLogLevel string, cfg *bridgeconfig.Config) error {
	level := bridgeconfig.ResolveLogLevel(cliLogLevel, cfg)

	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	bridgelog.Init(slogLevel, cfg != nil && cfg.Logging.JSON)
	return nil
}
