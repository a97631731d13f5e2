package huntingcorner

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Run("reads prefixed variables", func(t *testing.T) {
		cfg, err := parseConfig(env.Options{
			Prefix: "HC_",
			Environment: map[string]string{
				"HC_BASE_URL":                "http://localhost:8000/api/",
				"HC_PLATFORM":                "native",
				"HC_CACHE_TTL":               "10m",
				"HC_PUSHER_KEY":              "key",
				"HC_REALTIME_VALIDATE_TOKEN": "true",
				"HC_SUBSCRIBE_RETRIES":       "5",
			},
		})
		require.NoError(t, err)
		require.Equal(t, "http://localhost:8000/api/", cfg.BaseURL)
		require.Equal(t, PlatformNative, cfg.Platform)
		require.Equal(t, 10*time.Minute, cfg.CacheTTL)
		require.Equal(t, "key", cfg.PusherKey)
		require.True(t, cfg.RealtimeValidateToken)
		require.Equal(t, 5, cfg.SubscribeRetries)
	})

	t.Run("platform defaults to web", func(t *testing.T) {
		cfg, err := parseConfig(env.Options{Prefix: "HC_", Environment: map[string]string{}})
		require.NoError(t, err)
		require.Equal(t, PlatformWeb, cfg.Platform)
	})

	t.Run("unknown platform", func(t *testing.T) {
		_, err := parseConfig(env.Options{Prefix: "HC_", Environment: map[string]string{"HC_PLATFORM": "desktop"}})
		require.ErrorContains(t, err, "unknown platform")
	})

	t.Run("negative subscribe retries", func(t *testing.T) {
		_, err := parseConfig(env.Options{Prefix: "HC_", Environment: map[string]string{"HC_SUBSCRIBE_RETRIES": "-1"}})
		require.ErrorContains(t, err, "subscribe retries")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := parseConfig(env.Options{Prefix: "HC_", Environment: map[string]string{"HC_TIMEOUT": "soon"}})
		require.Error(t, err)
	})
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()
	require.Equal(t, DefaultBaseURL, cfg.BaseURL)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, PlatformWeb, cfg.Platform)
	require.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	require.Equal(t, DefaultPusherCluster, cfg.PusherCluster)
	require.Equal(t, 3, cfg.SubscribeRetries)

	staging := Config{Environment: Staging, BaseURL: ""}
	staging.defaults()
	require.Equal(t, environments[Staging], staging.BaseURL)

	negative := Config{SubscribeRetries: -4}
	negative.defaults()
	require.Equal(t, 3, negative.SubscribeRetries)

	trimmed := Config{BaseURL: "http://x/api///"}
	trimmed.defaults()
	require.Equal(t, "http://x/api", trimmed.BaseURL)
}

func TestSocketURL(t *testing.T) {
	cfg := Config{PusherKey: "abc", PusherCluster: "eu"}
	require.Equal(t, "wss://ws-eu.pusher.com:443/app/abc?protocol=7&client=go-huntingcorner&version=1.0&flash=false", cfg.socketURL())

	cfg.RealtimeURL = "ws://127.0.0.1:1/app/abc"
	require.Equal(t, "ws://127.0.0.1:1/app/abc", cfg.socketURL())
}
