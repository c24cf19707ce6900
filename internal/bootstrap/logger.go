package bootstrap

import (
	"bitfinex-trader/internal/core"
	"bitfinex-trader/pkg/logging"
)

// InitLogger builds the process-wide ILogger from configuration and
// installs it as the package-level default so library code that reaches
// for logging.GetGlobalLogger() picks it up too.
func InitLogger(cfg *Config) core.ILogger {
	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		// NewZapLogger does not currently return an error; fall back to
		// INFO anyway rather than leave the process with a nil logger.
		logger, _ = logging.NewZapLogger("INFO")
	}
	logging.SetGlobalLogger(logger)
	return logger
}
