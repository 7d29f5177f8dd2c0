// Package config loads memex settings from memex.yaml, MEMEX_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName is the config file base name and the user config directory.
	AppName = "memex"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MEMEX"
)

// Config holds every memex setting.
type Config struct {
	Vault       string `mapstructure:"vault"`
	PoliciesDir string `mapstructure:"policies_dir"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // console or json
		File   string `mapstructure:"file"`
	} `mapstructure:"log"`

	Lock struct {
		StaleAfter time.Duration `mapstructure:"stale_after"`
		RetryStale time.Duration `mapstructure:"retry_stale"`
		RetryHeld  time.Duration `mapstructure:"retry_held"`
	} `mapstructure:"lock"`

	Trace struct {
		Enabled bool   `mapstructure:"enabled"`
		Dir     string `mapstructure:"dir"`
	} `mapstructure:"trace"`

	Git struct {
		Binary string `mapstructure:"binary"`
	} `mapstructure:"git"`

	Cache struct {
		MaxPolicies int64 `mapstructure:"max_policies"`
	} `mapstructure:"cache"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// Options controls where Load looks.
type Options struct {
	// File, when set, is the only config file read. It must exist.
	File string
	// Flags are bound over file and environment values. Flag names use
	// dashes for underscores and dots, e.g. "log-level" for log.level.
	Flags *pflag.FlagSet
	// SearchPaths replaces the default search path list.
	SearchPaths []string
}

// FlagKeys maps flag names to the config keys they override.
var FlagKeys = map[string]string{
	"vault":        "vault",
	"policies-dir": "policies_dir",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"trace":        "trace.enabled",
	"git-binary":   "git.binary",
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("vault", ".")
	v.SetDefault("policies_dir", ".memex/policies")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("lock.stale_after", "60s")
	v.SetDefault("lock.retry_stale", "1s")
	v.SetDefault("lock.retry_held", "5s")
	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.dir", ".memex/runs")
	v.SetDefault("git.binary", "git")
	v.SetDefault("cache.max_policies", 256)
}

// Load builds the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		paths := opts.SearchPaths
		if paths == nil {
			paths = searchPaths(v.GetString("vault"))
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	var file string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		file = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.File = file
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// searchPaths is the vault root, the user config directory and the
// working directory, in that order.
func searchPaths(vault string) []string {
	paths := []string{vault}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", AppName))
	}
	return append(paths, ".")
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Lock.StaleAfter <= 0 {
		return fmt.Errorf("config: lock.stale_after must be positive")
	}
	if c.Lock.RetryStale < 0 || c.Lock.RetryHeld < 0 {
		return fmt.Errorf("config: lock retry hints must not be negative")
	}
	if c.Cache.MaxPolicies < 0 {
		return fmt.Errorf("config: cache.max_policies must not be negative")
	}
	return nil
}

// PoliciesPath is the absolute policy directory. A relative policies_dir
// is taken relative to the vault.
func (c *Config) PoliciesPath() string {
	return c.underVault(c.PoliciesDir)
}

// TracePath is the absolute run trace directory.
func (c *Config) TracePath() string {
	return c.underVault(c.Trace.Dir)
}

func (c *Config) underVault(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Vault, p)
}
