package config

import (
	"os"
	"strconv"
)

// LoadFromEnv overlays environment variables on top of a loaded Config. Env
// wins over the YAML file, matching the precedence the rest of the stack uses.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("PACKGC_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.MetricsPort = p
		}
	}

	if logLevel := os.Getenv("PACKGC_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if limit := os.Getenv("PACKGC_COALESCE_GARBAGE_LIMIT"); limit != "" {
		if v, err := strconv.ParseInt(limit, 10, 64); err == nil {
			cfg.GC.CoalesceGarbageLimit = v
		}
	}

	if dbHost := os.Getenv("PACKGC_DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}

	if dbPassword := os.Getenv("PACKGC_DB_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
