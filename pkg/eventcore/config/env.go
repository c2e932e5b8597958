package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g.
// EVENTCORE_STORAGE_DIR or EVENTCORE_BUS_EXECUTOR.
const EnvPrefix = "EVENTCORE_"

// ApplyEnv overwrites the fields of s whose environment variable is set.
// Unset variables leave the current value alone.
func ApplyEnv(s *Settings) error {
	if err := env.ParseWithOptions(s, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
