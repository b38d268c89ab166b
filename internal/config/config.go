package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string       `mapstructure:"mode"`
	LogLevel string       `mapstructure:"log_level"`
	Relay    RelayConfig  `mapstructure:"relay"`
	Client   ClientConfig `mapstructure:"client"`
}

type RelayConfig struct {
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
	Backpressure string        `mapstructure:"backpressure"`
	TURN         TURNConfig    `mapstructure:"turn"`
}

type TURNConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Realm    string        `mapstructure:"realm"`
	PublicIP string        `mapstructure:"public_ip"`
	Port     int           `mapstructure:"port"`
	Secret   string        `mapstructure:"secret"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ClientConfig struct {
	RelayURL           string        `mapstructure:"relay_url"`
	DiscoveryServer    string        `mapstructure:"discovery_server"`
	RelayServers       []string      `mapstructure:"relay_servers"`
	ProbeInterval      time.Duration `mapstructure:"probe_interval"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	SendBuffer         int           `mapstructure:"send_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")

	v.SetDefault("relay.port", 8080)
	v.SetDefault("relay.static_path", "./web")
	v.SetDefault("relay.read_limit", 32768)
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.secret", "walkie-dev-secret")
	v.SetDefault("relay.send_buffer", 32)
	v.SetDefault("relay.rate_limit", 50)
	v.SetDefault("relay.rate_window", "1s")
	v.SetDefault("relay.backpressure", "kick")
	v.SetDefault("relay.turn.enabled", false)
	v.SetDefault("relay.turn.realm", "walkie")
	v.SetDefault("relay.turn.public_ip", "127.0.0.1")
	v.SetDefault("relay.turn.port", 3478)
	v.SetDefault("relay.turn.secret", "walkie-turn-secret")
	v.SetDefault("relay.turn.ttl", "24h")

	v.SetDefault("client.relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.discovery_server", "stun:stun.l.google.com:19302")
	v.SetDefault("client.relay_servers", []string{"turn:localhost:3478?transport=udp"})
	v.SetDefault("client.probe_interval", "5s")
	v.SetDefault("client.negotiation_timeout", "30s")
	v.SetDefault("client.send_buffer", 32)
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// WALKIE_* environment variables override both (WALKIE_RELAY_PORT etc).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("walkie")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Client.ProbeInterval <= 0 {
		return nil, fmt.Errorf("client.probe_interval must be > 0")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("relay_port", cfg.Relay.Port).Str("relay_url", cfg.Client.RelayURL).Msg("config resolved")
	return &cfg, nil
}

// Level maps log_level onto zerolog, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
