package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`

	Matrix    MatrixConfig    `mapstructure:"matrix"`
	Media     MediaConfig     `mapstructure:"media"`
	LiveKit   LiveKitConfig   `mapstructure:"livekit"`
	Session   SessionConfig   `mapstructure:"session"`
	Call      CallConfig      `mapstructure:"call"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	v *viper.Viper
}

type MatrixConfig struct {
	HomeserverURL string `mapstructure:"homeserver_url"`
}

type MediaConfig struct {
	SignalURL  string        `mapstructure:"signal_url"`
	ICEServers []string      `mapstructure:"ice_servers"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
}

type LiveKitConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type SessionConfig struct {
	Path string `mapstructure:"path"`
}

type CallConfig struct {
	StartAudioMuted bool `mapstructure:"start_audio_muted"`
	StartVideoMuted bool `mapstructure:"start_video_muted"`
}

// RateLimitConfig bounds outgoing chat messages per room.
type RateLimitConfig struct {
	Messages int           `mapstructure:"messages"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (default env "dev").
// A missing file is not an error; defaults and CHATCALL_* variables apply.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("CHATCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	logger := log.With().Str("module", "config").Str("file", fileName).Logger()
	if err := v.ReadInConfig(); err != nil {
		logger.Warn().Err(err).Msg("config file not loaded, using defaults")
	} else {
		logger.Info().Msg("config loaded")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("homeserver", cfg.Matrix.HomeserverURL).
		Msg("config ready")
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("matrix.homeserver_url", "https://matrix.org")

	v.SetDefault("media.signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.read_limit", 32768)
	v.SetDefault("media.ping_period", "54s")

	v.SetDefault("livekit.api_key", "")
	v.SetDefault("livekit.api_secret", "")
	v.SetDefault("livekit.token_ttl", "24h")

	v.SetDefault("session.path", "data/session.yaml")

	v.SetDefault("call.start_audio_muted", true)
	v.SetDefault("call.start_video_muted", false)

	v.SetDefault("rate_limit.messages", 5)
	v.SetDefault("rate_limit.interval", "10s")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.v = v
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Matrix.HomeserverURL == "" {
		errs = append(errs, errors.New("matrix.homeserver_url is required"))
	}
	if c.Session.Path == "" {
		errs = append(errs, errors.New("session.path is required"))
	}
	if c.RateLimit.Messages <= 0 || c.RateLimit.Interval <= 0 {
		errs = append(errs, errors.New("rate_limit needs positive messages and interval"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the zerolog level; an unparsable value means info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Watch re-reads the file on change and hands fn the new config.
// Invalid edits are logged and skipped.
func (c *Config) Watch(fn func(*Config)) {
	if c.v == nil {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		logger := log.With().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Logger()
		next, err := decode(c.v)
		if err != nil {
			logger.Error().Err(err).Msg("config reload rejected")
			return
		}
		logger.Info().Str("log_level", next.LogLevel).Msg("config reloaded")
		fn(next)
	})
	c.v.WatchConfig()
}
