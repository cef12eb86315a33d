// Package config loads connection settings for dbo from defaults, a YAML
// file, DBO_* environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/shrek82/dbo/core"
	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/logger"
	"github.com/shrek82/dbo/pool"
)

// EnvPrefix marks the environment variables Load reads.
const EnvPrefix = "DBO_"

// LogConfig selects the connection logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// Path appends log lines to a file instead of stdout.
	Path string `koanf:"path"`
}

// CacheConfig configures the Select result caches.
type CacheConfig struct {
	TTL   time.Duration `koanf:"ttl"`
	Dir   string        `koanf:"dir"`
	Redis string        `koanf:"redis"`
}

// Config holds connection settings.
type Config struct {
	DSN             string      `koanf:"dsn"`
	Username        string      `koanf:"username"`
	Password        string      `koanf:"password"`
	ErrorMode       string      `koanf:"error_mode"`
	Case            string      `koanf:"case"`
	Nulls           string      `koanf:"nulls"`
	Persistent      bool        `koanf:"persistent"`
	PoolID          string      `koanf:"pool_id"`
	Autocommit      bool        `koanf:"autocommit"`
	Cursor          string      `koanf:"cursor"`
	EmulatePrepares bool        `koanf:"emulate_prepares"`
	Timeout         int         `koanf:"timeout"`
	Log             LogConfig   `koanf:"log"`
	Cache           CacheConfig `koanf:"cache"`
}

func defaults() map[string]any {
	return map[string]any{
		"error_mode": "exception",
		"case":       "natural",
		"nulls":      "natural",
		"autocommit": true,
		"cursor":     "forward_only",
		"log.level":  "info",
		"log.format": "text",
		"cache.ttl":  "5m",
	}
}

// sections are the nested keys an env variable can address, so that
// DBO_LOG_LEVEL becomes log.level.
var sections = []string{"log", "cache"}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(key, sec+"_") {
			return sec + "." + key[len(sec)+1:]
		}
	}
	return key
}

// Load reads the configuration. Precedence, highest first: flags that were
// set, environment, the YAML file at path, defaults. path and flags may be
// empty.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			for _, sec := range sections {
				if strings.HasPrefix(key, sec+"_") {
					key = sec + "." + key[len(sec)+1:]
				}
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

func pick[T any](field, v string, choices map[string]T) (T, error) {
	if c, ok := choices[strings.ToLower(strings.TrimSpace(v))]; ok {
		return c, nil
	}
	var zero T
	return zero, fmt.Errorf("config: invalid %s %q", field, v)
}

// Attributes converts the settings to connection attributes.
func (c *Config) Attributes() (dialect.Options, error) {
	mode, err := pick("error_mode", c.ErrorMode, map[string]dialect.ErrMode{
		"silent": dialect.ErrModeSilent, "warning": dialect.ErrModeWarning, "exception": dialect.ErrModeException,
	})
	if err != nil {
		return nil, err
	}
	fold, err := pick("case", c.Case, map[string]dialect.Case{
		"natural": dialect.CaseNatural, "upper": dialect.CaseUpper, "lower": dialect.CaseLower,
	})
	if err != nil {
		return nil, err
	}
	nulls, err := pick("nulls", c.Nulls, map[string]dialect.Nulls{
		"natural": dialect.NullNatural, "empty_string": dialect.NullEmptyString, "to_string": dialect.NullToString,
	})
	if err != nil {
		return nil, err
	}
	cursor, err := pick("cursor", c.Cursor, map[string]dialect.Cursor{
		"forward_only": dialect.CursorForwardOnly, "scrollable": dialect.CursorScrollable,
	})
	if err != nil {
		return nil, err
	}

	attrs := dialect.Options{
		dialect.AttrErrMode:    mode,
		dialect.AttrCase:       fold,
		dialect.AttrNulls:      nulls,
		dialect.AttrCursor:     cursor,
		dialect.AttrAutocommit: c.Autocommit,
	}
	if c.Persistent {
		attrs[dialect.AttrPersistent] = true
	}
	if c.EmulatePrepares {
		attrs[dialect.AttrEmulatePrepares] = true
	}
	if c.Timeout > 0 {
		attrs[dialect.AttrTimeout] = c.Timeout
	}
	return attrs, nil
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() (logger.Logger, error) {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	l := logger.New()
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
	case "json":
		l.SetFormat(logger.FormatJSON)
	default:
		return nil, fmt.Errorf("config: invalid log.format %q", c.Log.Format)
	}
	if c.Log.Path != "" {
		f, err := os.OpenFile(c.Log.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.SetOutput(f)
	}
	l.SetLevel(level)
	return l, nil
}

// Options builds core.Options. reg serves persistent connections and may be
// nil when Persistent is off.
func (c *Config) Options(reg *pool.Registry[dialect.Conn]) (*core.Options, error) {
	attrs, err := c.Attributes()
	if err != nil {
		return nil, err
	}
	l, err := c.Logger()
	if err != nil {
		return nil, err
	}
	return &core.Options{Attributes: attrs, Logger: l, Pool: reg, PoolID: c.PoolID}, nil
}

// Open connects with the loaded settings.
func (c *Config) Open(reg *pool.Registry[dialect.Conn]) (*core.DB, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("config: dsn is required")
	}
	opts, err := c.Options(reg)
	if err != nil {
		return nil, err
	}
	return core.Open(c.DSN, c.Username, c.Password, opts)
}
