package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	huntingcorner "github.com/permalinkserbia/hunting-corner-mobile-app"
)

// newClient builds an SDK client from the CLI config. Session state lives
// next to the config file: session.toml for the file store, session.db for
// SQLite.
func newClient() (*huntingcorner.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	dir, err := configDir()
	if err != nil {
		return nil, err
	}

	sdkCfg := huntingcorner.Config{
		BaseURL:       cfg.Default.BaseURL,
		Environment:   huntingcorner.Environment(cfg.Default.Environment),
		PusherKey:     cfg.Realtime.PusherKey,
		PusherCluster: cfg.Realtime.PusherCluster,
		RealtimeURL:   cfg.Realtime.URL,
	}
	switch cfg.Default.Store {
	case "sqlite":
		sdkCfg.Platform = huntingcorner.PlatformWeb
		sdkCfg.StorePath = filepath.Join(dir, "session.db")
	case "", "file":
		sdkCfg.Platform = huntingcorner.PlatformNative
		sdkCfg.StorePath = filepath.Join(dir, "session.toml")
	default:
		return nil, fmt.Errorf("unknown store %q (valid: file, sqlite)", cfg.Default.Store)
	}

	return huntingcorner.NewClient(sdkCfg, huntingcorner.WithLogger(logger))
}

// requireSession builds a client and restores the saved session.
func requireSession(ctx context.Context) (*huntingcorner.Client, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	if !client.Session().Initialize(ctx) {
		client.Close()
		return nil, errors.New("not signed in; run 'huntingcorner login' first")
	}
	return client, nil
}

// maskKey shows the first 4 and last 4 characters of a key.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
