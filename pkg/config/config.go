// Package config loads process-wide runtime configuration: environment
// variables for server settings, and YAML-defined sandbox security
// profiles. Config values are read once at startup and passed by value
// into constructors — there is no ambient global config object.
package config

import (
	"os"
	"strconv"

	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

// Config holds the server's environment-derived settings.
type Config struct {
	Port           string
	LogLevel       string
	DatabaseURL    string
	SQLitePath     string
	LLMProvider    string
	DefaultMode    contracts.Mode
	StrictMandated bool
	ArtifactDir    string
	ProfilesDir    string
	ConcurrencyCap int
	RedisAddr      string
}

// Load reads Config from the environment, applying the same
// override-with-default convention for every field.
func Load() *Config {
	return &Config{
		Port:           getenv("PORT", "8080"),
		LogLevel:       getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     getenv("SQLITE_PATH", "data/dhi.db"),
		LLMProvider:    getenv("LLM_PROVIDER", "openai"),
		DefaultMode:    contracts.Mode(getenv("SANDBOX_MODE", string(contracts.ModeBalanced))),
		StrictMandated: os.Getenv("STRICT_MANDATED") == "true",
		ArtifactDir:    getenv("ARTIFACT_DIR", "data/artifacts"),
		ProfilesDir:    getenv("PROFILES_DIR", "config/profiles"),
		ConcurrencyCap: getenvInt("SANDBOX_CONCURRENCY_CAP", 8),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
