package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.huntingcorner/config.toml.
type Config struct {
	Default  ConfigDefault  `toml:"default" mapstructure:"default"`
	Realtime ConfigRealtime `toml:"realtime" mapstructure:"realtime"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	Environment string `toml:"environment" mapstructure:"environment"`
	BaseURL     string `toml:"base_url" mapstructure:"base_url"`
	Store       string `toml:"store" mapstructure:"store"`
}

// ConfigRealtime holds the Pusher connection settings.
type ConfigRealtime struct {
	PusherKey     string `toml:"pusher_key" mapstructure:"pusher_key"`
	PusherCluster string `toml:"pusher_cluster" mapstructure:"pusher_cluster"`
	URL           string `toml:"url" mapstructure:"url"`
}

var configKeys = []string{
	"default.environment",
	"default.base_url",
	"default.store",
	"realtime.pusher_key",
	"realtime.pusher_cluster",
	"realtime.url",
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.huntingcorner, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".huntingcorner")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// newViper returns a viper instance reading the config file with HC_*
// environment overrides (e.g. HC_DEFAULT_BASE_URL) and bound root flags.
func newViper() (*viper.Viper, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("HC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range configKeys {
		v.SetDefault(k, "")
	}
	v.SetDefault("default.environment", "production")
	v.SetDefault("default.store", "file")

	if f := rootCmd.PersistentFlags().Lookup("base-url"); f != nil && f.Changed {
		v.Set("default.base_url", f.Value.String())
	}
	if f := rootCmd.PersistentFlags().Lookup("store"); f != nil && f.Changed {
		v.Set("default.store", f.Value.String())
	}

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	}
	return v, nil
}

// loadConfig reads the file, environment and flags into a Config.
// A missing file yields the defaults.
func loadConfig() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// loadFileConfig reads only the file, so that config set does not persist
// environment overrides.
func loadFileConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}

	switch section {
	case "default":
		switch field {
		case "environment":
			cfg.Default.Environment = value
		case "base_url":
			cfg.Default.BaseURL = value
		case "store":
			if value != "file" && value != "sqlite" {
				return fmt.Errorf("store must be file or sqlite")
			}
			cfg.Default.Store = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "realtime":
		switch field {
		case "pusher_key":
			cfg.Realtime.PusherKey = value
		case "pusher_cluster":
			cfg.Realtime.PusherCluster = value
		case "url":
			cfg.Realtime.URL = value
		default:
			return fmt.Errorf("unknown field %q in section [realtime]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, realtime)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	flagVerbose bool
	logger      = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "huntingcorner",
	Short: "Hunting Corner CLI",
	Long:  "Command-line client for Hunting Corner.\nSign in, browse the feed, listen for live updates and manage the offline queue.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if flagVerbose {
			level = zerolog.DebugLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().Timestamp().Logger()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("base-url", "", "Override the API base URL")
	rootCmd.PersistentFlags().String("store", "", "Session store: file or sqlite")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
