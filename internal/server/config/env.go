package config

import (
	"os"
	"time"
)

// parseEnv overlays Config with values from the environment. The server's
// main loads a .env file first, so container deployments can configure
// everything without flags.
//
// Recognized variables:
//
//	ADDRESS        — bind address (":8080")
//	DATABASE_DSN   — PostgreSQL DSN
//	SECRET_KEY     — JWT signing secret
//	TOKEN_VALIDITY — access token lifetime, e.g. "24h"
func parseEnv(cfg *Config) {
	if v := os.Getenv("ADDRESS"); v != "" {
		cfg.EndpointAddr = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("TOKEN_VALIDITY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TokenValidityDuration = d
		}
	}
}
