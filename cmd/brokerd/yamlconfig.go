package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional on-disk overlay for Config, read from the path
// named by BROKER_CONFIG (default ~/.brokerd/brokerd.yaml if present),
// mirroring cmd/mcplexer/serve.go's optional mcplexer.yaml load. Values set
// here are overridden by any environment variable of the same concern, so
// operators can check a non-secret baseline into version control and still
// override per-deployment via the environment.
type fileConfig struct {
	HTTPAddr            string `yaml:"http_addr"`
	DBDSN               string `yaml:"db_dsn"`
	ClientID            string `yaml:"client_id"`
	RedirectURI         string `yaml:"redirect_uri"`
	RefreshThresholdSec int    `yaml:"refresh_threshold_sec"`
	SweepIntervalSec    int    `yaml:"sweep_interval_sec"`
}

// applyFileConfig loads path (if it exists) and overlays any values it sets
// onto cfg, leaving fields the file omits untouched. A missing file is not
// an error; the CLI works from environment variables and defaults alone.
func applyFileConfig(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.HTTPAddr != "" && os.Getenv("BROKER_HTTP_ADDR") == "" {
		cfg.HTTPAddr = fc.HTTPAddr
	}
	if fc.DBDSN != "" && os.Getenv("BROKER_DB_DSN") == "" {
		cfg.DBDSN = fc.DBDSN
	}
	if fc.ClientID != "" && os.Getenv("CLAUDE_OAUTH_CLIENT_ID") == "" {
		cfg.ClientID = fc.ClientID
	}
	if fc.RedirectURI != "" && os.Getenv("CLAUDE_OAUTH_REDIRECT_URI") == "" {
		cfg.RedirectURI = fc.RedirectURI
	}
	if fc.RefreshThresholdSec != 0 && os.Getenv("BROKER_REFRESH_THRESHOLD_SEC") == "" {
		cfg.RefreshThresholdSec = fc.RefreshThresholdSec
	}
	if fc.SweepIntervalSec != 0 && os.Getenv("BROKER_SWEEP_INTERVAL_SEC") == "" {
		cfg.SweepIntervalSec = fc.SweepIntervalSec
	}
	return nil
}
