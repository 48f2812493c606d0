package canvasconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the canvas binaries.
type Config struct {
	Port        string `env:"PORT" envDefault:"3000"`
	WSURL       string `env:"WS_URL"`
	PublicWSURL string `env:"PUBLIC_WS_URL"`
	NATSURL     string `env:"NATS_URL"`
	ConfigFile  string `env:"CANVAS_CONFIG"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	Limits Limits `envPrefix:"CANVAS_"`

	// Palette is only settable from the config file.
	Palette []string
}

// Limits bounds what a single connection may cost the server.
type Limits struct {
	MessagesPerSecond float64 `env:"RATE_PER_SECOND" envDefault:"200" yaml:"messages_per_second"`
	MessageBurst      int     `env:"RATE_BURST" envDefault:"400" yaml:"message_burst"`
	MaxMessageSize    int64   `env:"MAX_MESSAGE_SIZE" envDefault:"65536" yaml:"max_message_size"`
	SendBufferSize    int     `env:"SEND_BUFFER_SIZE" envDefault:"512" yaml:"send_buffer_size"`
}

// fileConfig is the shape of the optional YAML file.
type fileConfig struct {
	Palette []string `yaml:"palette"`
	Limits  *Limits  `yaml:"limits"`
}

// Load reads .env (if present), the process environment and the optional
// config file, in that order of precedence from lowest to highest.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.ConfigFile != "" {
		data, err := os.ReadFile(cfg.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", cfg.ConfigFile, err)
		}
		if err := cfg.applyFile(data); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", cfg.ConfigFile, err)
		}
	}

	return cfg, nil
}

func (c *Config) applyFile(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}

	for i, color := range fc.Palette {
		if !strings.HasPrefix(color, "#") {
			return fmt.Errorf("palette entry %d: %q is not a hex color", i, color)
		}
	}
	if len(fc.Palette) > 0 {
		c.Palette = fc.Palette
	}

	if l := fc.Limits; l != nil {
		if l.MessagesPerSecond > 0 {
			c.Limits.MessagesPerSecond = l.MessagesPerSecond
		}
		if l.MessageBurst > 0 {
			c.Limits.MessageBurst = l.MessageBurst
		}
		if l.MaxMessageSize > 0 {
			c.Limits.MaxMessageSize = l.MaxMessageSize
		}
		if l.SendBufferSize > 0 {
			c.Limits.SendBufferSize = l.SendBufferSize
		}
	}
	return nil
}

// AdvertisedWSURL is the websocket address handed out by /api/config.
// Empty means derive it from the request.
func (c Config) AdvertisedWSURL() string {
	if c.PublicWSURL != "" {
		return c.PublicWSURL
	}
	return c.WSURL
}

// Level parses LogLevel, falling back to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// SetupLogging installs the console logger at the configured level.
func (c Config) SetupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(c.Level())
}
