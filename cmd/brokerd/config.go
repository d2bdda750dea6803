package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/claude-oauth-broker/broker/internal/logging"
)

// defaultClaudeAuthorizeURL, defaultClaudeTokenURL are the well-known Claude
// OAuth endpoints, overridable for testing against a fake provider.
const (
	defaultClaudeAuthorizeURL = "https://claude.ai/oauth/authorize"
	defaultClaudeTokenURL     = "https://console.anthropic.com/v1/oauth/token"
	defaultOAuthBetaHeader    = "oauth-2025-04-20"
	defaultClientID           = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	defaultRedirectURI        = "https://console.anthropic.com/oauth/code/callback"
)

// Config holds brokerd's configuration, loaded once from environment
// variables at process start, mirroring cmd/mcplexer/config.go's Config.
type Config struct {
	HTTPAddr string
	DBDSN    string

	AgeKeyPath      string
	EncryptionKey   string // CLAUDE_TOKEN_ENCRYPTION_KEY, raw or base64
	ClientID        string
	AuthorizeURL    string
	TokenURL        string
	RefreshURL      string
	RedirectURI     string
	OAuthBetaHeader string

	RefreshThresholdSec int
	SweepIntervalSec    int
	MaxUsers            int
	LogLevel            slog.Level
}

// defaultDataPath returns ~/.brokerd/<filename>, falling back to a
// CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".brokerd", filename)
}

func loadConfig() *Config {
	cfg := &Config{
		HTTPAddr:            envOr("BROKER_HTTP_ADDR", "127.0.0.1:8089"),
		DBDSN:               envOr("BROKER_DB_DSN", defaultDataPath("tokens.db")),
		AgeKeyPath:          envOr("BROKER_AGE_KEY", ""),
		EncryptionKey:       os.Getenv("CLAUDE_TOKEN_ENCRYPTION_KEY"),
		ClientID:            envOr("CLAUDE_OAUTH_CLIENT_ID", defaultClientID),
		AuthorizeURL:        envOr("CLAUDE_OAUTH_AUTHORIZE_URL", defaultClaudeAuthorizeURL),
		TokenURL:            envOr("CLAUDE_OAUTH_TOKEN_URL", defaultClaudeTokenURL),
		RefreshURL:          envOr("CLAUDE_OAUTH_TOKEN_URL", defaultClaudeTokenURL),
		RedirectURI:         envOr("CLAUDE_OAUTH_REDIRECT_URI", defaultRedirectURI),
		OAuthBetaHeader:     defaultOAuthBetaHeader,
		RefreshThresholdSec: envIntOr("BROKER_REFRESH_THRESHOLD_SEC", 300),
		SweepIntervalSec:    envIntOr("BROKER_SWEEP_INTERVAL_SEC", 60),
		MaxUsers:            envIntOr("BROKER_MAX_USERS", 10000),
		LogLevel:            logging.ParseLevel(envOr("BROKER_LOG_LEVEL", "info")),
	}

	configFile := envOr("BROKER_CONFIG", defaultDataPath("brokerd.yaml"))
	if err := applyFileConfig(cfg, configFile); err != nil {
		slog.Warn("failed to load optional config file, continuing with env/defaults",
			"path", configFile, "err", err)
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
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
