package bootstrap

import (
	"bitfinex-trader/internal/config"
	"fmt"
	"os"
	"path/filepath"
)

// Config is an alias for the project's main configuration struct.
type Config = config.Config

// LoadConfig delegates to the project's config loader and runs the
// pre-flight checks that schema validation alone cannot express.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation:
// the persistence paths' parent directories must exist and be directories
// before the nonce service or bracket manager try to snapshot into them.
// Whether they are writable is not checked.
func checkPreFlight(cfg *Config) error {
	for _, path := range []string{cfg.Persistence.BracketSnapshotPath, cfg.Persistence.NoncePath, cfg.Persistence.AuditDBPath} {
		dir := filepath.Dir(path)
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("directory for persistence path %s does not exist: %s", path, dir)
			}
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("persistence path parent %s is not a directory", dir)
		}
	}
	return nil
}
