package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath names a config file when no --config flag is given.
const EnvConfigPath = "REBUTTAL_CONFIG"

const (
	configDirName  = "rebuttal"
	configFileName = "config.jsonc"
)

// ResolvePath picks the config location: explicit flag, then REBUTTAL_CONFIG,
// then $XDG_CONFIG_HOME, then ~/.config.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(EnvConfigPath)} {
		if p := strings.TrimSpace(candidate); p != "" {
			return p, nil
		}
	}

	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return "", errors.New("cannot locate config: no home directory")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, configDirName, configFileName), nil
}
