// Package config aggregates runtime settings for the bot daemon.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultDatabaseURL     = "sqlite://creditbot.db"
	defaultAllowedOrigin   = "http://localhost:5173"
	defaultSessionIssuer   = "creditbot"
	defaultSessionCookie   = "admin_session"
	defaultSessionLifetime = 12 * time.Hour
	defaultSlipStaleness   = 2 * time.Hour
	defaultHistoryLimit    = 10
)

// Config aggregates runtime settings for the daemon.
type Config struct {
	ListenAddr  string
	DatabaseURL string

	LineChannelSecret string
	LineChannelToken  string

	SlipOracleEndpoint string
	SlipOracleAPIKey   string
	SlipStaleness      time.Duration

	BlobEndpoint   string
	BlobBucket     string
	BlobRegion     string
	BlobAccessKey  string
	BlobSecretKey  string
	BlobPublicBase string

	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	SessionLifetime   time.Duration

	HistoryLimit int
}

// Validate fills defaults and rejects configs the daemon cannot run with.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = defaultSessionLifetime
	}
	if cfg.SlipStaleness <= 0 {
		cfg.SlipStaleness = defaultSlipStaleness
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if strings.TrimSpace(cfg.LineChannelSecret) == "" {
		return fmt.Errorf("line channel secret is required")
	}
	if strings.TrimSpace(cfg.LineChannelToken) == "" {
		return fmt.Errorf("line channel token is required")
	}
	if strings.TrimSpace(cfg.SlipOracleEndpoint) == "" {
		return fmt.Errorf("slip oracle endpoint is required")
	}
	if strings.TrimSpace(cfg.SlipOracleAPIKey) == "" {
		return fmt.Errorf("slip oracle api key is required")
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

// BlobConfigured reports whether slip images can be archived. The uploader is
// optional; without it slips are processed with an empty image URL.
func (cfg *Config) BlobConfigured() bool {
	return strings.TrimSpace(cfg.BlobEndpoint) != "" &&
		strings.TrimSpace(cfg.BlobBucket) != "" &&
		strings.TrimSpace(cfg.BlobAccessKey) != "" &&
		strings.TrimSpace(cfg.BlobSecretKey) != ""
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
