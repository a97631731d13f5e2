package huntingcorner

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://lovackikutak.rs/api",
	Staging:    "https://staging.lovackikutak.rs/api",
}

// Platform selects the persistence backend and push behaviour.
type Platform string

const (
	PlatformNative Platform = "native"
	PlatformWeb    Platform = "web"
)

const (
	DefaultBaseURL       = "https://lovackikutak.rs/api"
	DefaultTimeout       = 30 * time.Second
	DefaultCacheTTL      = 24 * time.Hour
	DefaultPusherCluster = "eu"
)

// ============================================================================
// Config
// ============================================================================

// Config holds SDK settings. Zero values are replaced by defaults in NewClient.
type Config struct {
	BaseURL     string        `env:"BASE_URL"`
	Environment Environment   `env:"ENVIRONMENT"`
	Timeout     time.Duration `env:"TIMEOUT"`
	Platform    Platform      `env:"PLATFORM" envDefault:"web"`

	// StorePath is the FileStore document (native) or SQLite database (web).
	// Empty keeps everything in memory.
	StorePath string `env:"STORE_PATH"`

	CacheTTL    time.Duration `env:"CACHE_TTL"`
	LogoutGrace time.Duration `env:"LOGOUT_GRACE"`

	PusherKey     string `env:"PUSHER_KEY"`
	PusherCluster string `env:"PUSHER_CLUSTER"`
	// RealtimeURL overrides the socket URL derived from key and cluster.
	RealtimeURL           string        `env:"REALTIME_URL"`
	RealtimeValidateToken bool          `env:"REALTIME_VALIDATE_TOKEN"`
	RealtimeRecoveryDelay time.Duration `env:"REALTIME_RECOVERY_DELAY"`
	SubscribeRetries      int           `env:"SUBSCRIBE_RETRIES"`
	SubscribeBackoff      time.Duration `env:"SUBSCRIBE_BACKOFF"`
	NoAutoReconnect       bool          `env:"NO_AUTO_RECONNECT"`

	// DeviceToken is the push token handed to the backend on native platforms.
	DeviceToken string `env:"DEVICE_TOKEN"`
}

// LoadConfigFromEnv reads HC_* variables into a Config.
func LoadConfigFromEnv() (Config, error) {
	return parseConfig(env.Options{Prefix: "HC_"})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Platform != "" && cfg.Platform != PlatformNative && cfg.Platform != PlatformWeb {
		return Config{}, fmt.Errorf("config: unknown platform %q", cfg.Platform)
	}
	if cfg.SubscribeRetries < 0 {
		return Config{}, fmt.Errorf("config: subscribe retries must be positive, got %d", cfg.SubscribeRetries)
	}
	return cfg, nil
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		if u, ok := environments[c.Environment]; ok {
			c.BaseURL = u
		} else {
			c.BaseURL = DefaultBaseURL
		}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Platform == "" {
		c.Platform = PlatformWeb
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.LogoutGrace == 0 {
		c.LogoutGrace = 500 * time.Millisecond
	}
	if c.PusherCluster == "" {
		c.PusherCluster = DefaultPusherCluster
	}
	if c.RealtimeRecoveryDelay == 0 {
		c.RealtimeRecoveryDelay = time.Second
	}
	if c.SubscribeRetries < 1 {
		c.SubscribeRetries = 3
	}
	if c.SubscribeBackoff == 0 {
		c.SubscribeBackoff = 100 * time.Millisecond
	}
}

// socketURL is the Pusher channels endpoint, protocol 7.
func (c *Config) socketURL() string {
	if c.RealtimeURL != "" {
		return c.RealtimeURL
	}
	return fmt.Sprintf("wss://ws-%s.pusher.com:443/app/%s?protocol=7&client=go-huntingcorner&version=1.0&flash=false",
		c.PusherCluster, c.PusherKey)
}
