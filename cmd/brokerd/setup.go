package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/claude-oauth-broker/broker/internal/authservice"
	"github.com/claude-oauth-broker/broker/internal/crypto"
	"github.com/claude-oauth-broker/broker/internal/flowstate"
	"github.com/claude-oauth-broker/broker/internal/lifecycle"
	"github.com/claude-oauth-broker/broker/internal/provider"
	"github.com/claude-oauth-broker/broker/internal/tokenstore"
)

// engine bundles the components every subcommand needs, wired once per
// process invocation.
type engine struct {
	service *authservice.Service
	store   *tokenstore.Store
	manager *lifecycle.Manager
}

func (e *engine) Close() error {
	return e.store.Close()
}

// buildEngine wires C1-C6 from cfg, following the same fallback chain as
// buildAuthInjector: an explicit key file, then an env-supplied raw key,
// then an auto-persisted key file alongside the database, then an ephemeral
// key as a last resort (with a loud warning, since anything sealed under it
// is unrecoverable after the process exits).
func buildEngine(ctx context.Context, cfg *Config) (*engine, error) {
	env, err := buildEnvelope(cfg)
	if err != nil {
		return nil, fmt.Errorf("build encryption envelope: %w", err)
	}

	store, err := tokenstore.Open(ctx, cfg.DBDSN, env, cfg.MaxUsers)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	client := provider.NewClient(provider.Config{
		ClientID:        cfg.ClientID,
		AuthorizeURL:    cfg.AuthorizeURL,
		TokenURL:        cfg.TokenURL,
		RefreshURL:      cfg.RefreshURL,
		RedirectURI:     cfg.RedirectURI,
		OAuthBetaHeader: cfg.OAuthBetaHeader,
	})

	manager := lifecycle.NewManager(store, client, time.Duration(cfg.RefreshThresholdSec)*time.Second)

	if fallback, err := tokenstore.LoadEnvFallback(); err != nil {
		slog.Warn("ignoring malformed bootstrap token env vars", "err", err)
	} else if fallback != nil {
		if _, err := store.Get(ctx, fallback.UserID); errors.Is(err, tokenstore.ErrNotFound) {
			if err := manager.Register(ctx, fallback.ToRecord()); err != nil {
				slog.Warn("failed to seed bootstrap token", "err", err)
			}
		}
	}

	flows := flowstate.NewMemoryStore()
	svc := authservice.New(flows, client, manager, authservice.Config{})

	return &engine{service: svc, store: store, manager: manager}, nil
}

func buildEnvelope(cfg *Config) (*crypto.Envelope, error) {
	if cfg.AgeKeyPath != "" {
		return crypto.EnsureKeyFile(cfg.AgeKeyPath)
	}
	if cfg.EncryptionKey != "" {
		key, err := crypto.ParseConfiguredKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("parse encryption key: %w", err)
		}
		return crypto.NewPassphraseEnvelope(key)
	}

	keyPath := cfg.DBDSN + ".age"
	env, err := crypto.EnsureKeyFile(keyPath)
	if err != nil {
		slog.Warn("failed to create persistent key file, falling back to ephemeral",
			"path", keyPath, "err", err)
		return crypto.GenerateEnvelope()
	}
	return env, nil
}

// bootstrapUserID resolves the userID a CLI subcommand should operate on:
// the --user flag value if present, else the bootstrap default.
func bootstrapUserID(args []string) (userID string, rest []string) {
	for i := 0; i < len(args); i++ {
		if args[i] == "--user" && i+1 < len(args) {
			return args[i+1], append(append([]string{}, args[:i]...), args[i+2:]...)
		}
	}
	return tokenstore.DefaultBootstrapUserID, args
}
