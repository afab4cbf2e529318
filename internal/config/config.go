// Package config loads settings from built-in defaults, an optional YAML file,
// KNOLPLAN_* environment variables and command-line flags, in that order.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolplan/internal/fsrs"
	"github.com/conorfennell/knolplan/internal/performance"
	"github.com/conorfennell/knolplan/internal/planner"
)

// EnvPrefix marks the environment variables that configure knolplan.
// A double underscore separates nesting levels, so
// KNOLPLAN_PLANNER__MIN_BLOCK_MINUTES sets planner.min_block_minutes.
const EnvPrefix = "KNOLPLAN_"

type DB struct {
	Path string `koanf:"path" validate:"required"`
}

type HTTP struct {
	Addr string `koanf:"addr" validate:"required"`
	// CORSOrigins are the browser origins allowed to call the API.
	// Empty disables CORS handling.
	CORSOrigins []string `koanf:"cors_origins" validate:"dive,url"`
}

type Log struct {
	Mode string `koanf:"mode" validate:"oneof=dev development prod production"`
}

type Repos struct {
	// Dir is where git sources are cloned.
	Dir string `koanf:"dir" validate:"required"`
}

// Config is the complete application configuration.
type Config struct {
	DB          DB                 `koanf:"db"`
	HTTP        HTTP               `koanf:"http"`
	Log         Log                `koanf:"log"`
	Repos       Repos              `koanf:"repos"`
	Memory      fsrs.Params        `koanf:"memory"`
	Planner     planner.Config     `koanf:"planner"`
	Performance performance.Config `koanf:"performance"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		DB:          DB{Path: "knolplan.db"},
		HTTP:        HTTP{Addr: ":8080"},
		Log:         Log{Mode: "dev"},
		Repos:       Repos{Dir: "repos"},
		Memory:      *fsrs.DefaultParams(),
		Planner:     planner.DefaultConfig(),
		Performance: performance.DefaultConfig(),
	}
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.StringP("config", "c", "", "Path to a YAML configuration file")
	fs.String("db.path", d.DB.Path, "Path to the SQLite database file")
	fs.String("http.addr", d.HTTP.Addr, "Address the HTTP API listens on")
	fs.String("log.mode", d.Log.Mode, "Log mode: dev or prod")
	fs.String("repos.dir", d.Repos.Dir, "Directory git sources are cloned into")
}

// Load builds the configuration. fs may be nil; when set, its "config" flag
// names the YAML file and flags the user changed override everything else.
func Load(fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	path := os.Getenv(EnvPrefix + "CONFIG")
	if fs != nil {
		if p, err := fs.GetString("config"); err == nil && p != "" {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("invalid config: memory: %w", err)
	}
	return nil
}

// envKey maps KNOLPLAN_PLANNER__MIN_BLOCK_MINUTES to planner.min_block_minutes.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
