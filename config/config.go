// Package config loads broker and engine settings from YAML, environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. GRID_BROKER_LISTEN.
const EnvPrefix = "GRID"

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Broker BrokerConfig `mapstructure:"broker"`
	Engine EngineConfig `mapstructure:"engine"`
}

type LogConfig struct {
	// Level: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format: text or json
	Format string `mapstructure:"format"`
}

type BrokerConfig struct {
	Listen          string        `mapstructure:"listen"`
	CallbackTimeout time.Duration `mapstructure:"callback_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Metrics         bool          `mapstructure:"metrics"`

	// EngineURLTemplate builds the base URL of an engine registering by id only. %s is the engine id.
	EngineURLTemplate string `mapstructure:"engine_url_template"`
}

type EngineConfig struct {
	// ID is generated when empty.
	ID string `mapstructure:"id"`

	Listen    string `mapstructure:"listen"`
	BrokerURL string `mapstructure:"broker_url"`

	// Advertise is the URL the broker uses to reach this engine.
	Advertise string `mapstructure:"advertise"`

	RegisterInitial    time.Duration `mapstructure:"register_initial"`
	RegisterMax        time.Duration `mapstructure:"register_max"`
	RegisterMaxElapsed time.Duration `mapstructure:"register_max_elapsed"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Broker: BrokerConfig{
			Listen:          ":7070",
			CallbackTimeout: 5 * time.Second,
			RequestTimeout:  10 * time.Second,
			Metrics:         true,
		},
		Engine: EngineConfig{
			Listen:             ":7071",
			BrokerURL:          "http://127.0.0.1:7070",
			Advertise:          "http://127.0.0.1:7071",
			RegisterInitial:    500 * time.Millisecond,
			RegisterMax:        10 * time.Second,
			RegisterMaxElapsed: 2 * time.Minute,
			RequestTimeout:     10 * time.Second,
		},
	}
}

// New returns a viper instance seeded with the defaults and wired to GRID_* environment variables.
// Commands bind their flags into it before calling Decode.
func New() *viper.Viper {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("broker.listen", cfg.Broker.Listen)
	v.SetDefault("broker.engine_url_template", cfg.Broker.EngineURLTemplate)
	v.SetDefault("broker.callback_timeout", cfg.Broker.CallbackTimeout)
	v.SetDefault("broker.request_timeout", cfg.Broker.RequestTimeout)
	v.SetDefault("broker.metrics", cfg.Broker.Metrics)

	v.SetDefault("engine.id", cfg.Engine.ID)
	v.SetDefault("engine.listen", cfg.Engine.Listen)
	v.SetDefault("engine.broker_url", cfg.Engine.BrokerURL)
	v.SetDefault("engine.advertise", cfg.Engine.Advertise)
	v.SetDefault("engine.register_initial", cfg.Engine.RegisterInitial)
	v.SetDefault("engine.register_max", cfg.Engine.RegisterMax)
	v.SetDefault("engine.register_max_elapsed", cfg.Engine.RegisterMaxElapsed)
	v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)
	return v
}

// BindFlags binds each flag name in bindings to its config key. A flag set on the command
// line wins over the environment and the config file.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, bindings map[string]string) error {
	for name, key := range bindings {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("no flag %q to bind to %s", name, key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// Read loads path into v. An empty path falls back to GRID_CONFIG, then to grid.yaml in
// the working directory; a missing default file is not an error.
func Read(v *viper.Viper, path string) error {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("grid")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is New, Read and Decode in one step.
func Load(path string) (*Config, error) {
	v := New()
	if err := Read(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

func (c *Config) validate() error {
	if _, err := logrus.ParseLevel(strings.TrimSpace(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		c.Log.Format = "text"
	case "json":
		c.Log.Format = "json"
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if c.Engine.RegisterInitial <= 0 || c.Engine.RegisterMax < c.Engine.RegisterInitial {
		return fmt.Errorf("invalid engine registration backoff: initial %s, max %s", c.Engine.RegisterInitial, c.Engine.RegisterMax)
	}
	if c.Broker.CallbackTimeout <= 0 {
		return fmt.Errorf("invalid broker.callback_timeout: %s", c.Broker.CallbackTimeout)
	}
	return nil
}

// ApplyLogging configures l from the log section.
func (c *Config) ApplyLogging(l *logrus.Logger) {
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err == nil {
		l.SetLevel(lvl)
	}
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
