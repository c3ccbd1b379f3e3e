package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables consulted after the config file.
const (
	EnvServerURL         = "REBUTTAL_WS_URL"
	EnvDeepgramAPIKey    = "DEEPGRAM_API_KEY"
	EnvGoogleCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
)

// LoadDotEnv reads KEY=value files into the process environment. Variables
// already set are never overridden, and missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg. The server URL override
// always wins; credentials only fill values the file left empty.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) Config {
	get := func(key string) string {
		value, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(value)
	}

	if v := get(EnvServerURL); v != "" {
		cfg.Server.URL = v
	}
	if strings.TrimSpace(cfg.Server.URL) == "" {
		cfg.Server.URL = DefaultServerURL
	}
	if cfg.ASR.APIKey == "" {
		cfg.ASR.APIKey = get(EnvDeepgramAPIKey)
	}
	if cfg.ASR.CredentialsFile == "" {
		cfg.ASR.CredentialsFile = get(EnvGoogleCredentials)
	}
	return cfg
}
