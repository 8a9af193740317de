package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	Room   RoomConfig   `yaml:"room"`
	Auth   AuthConfig   `yaml:"auth"`
}

// ServerConfig HTTP/WebSocket server settings.
type ServerConfig struct {
	Host           string `yaml:"host" env:"GUESSWHO_HOST"`
	Port           int    `yaml:"port" env:"GUESSWHO_PORT"`
	MaxConnections int    `yaml:"max_connections" env:"GUESSWHO_MAX_CONNECTIONS"`
}

// RedisConfig Redis settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"GUESSWHO_REDIS_ADDR"`
	Password string `yaml:"password" env:"GUESSWHO_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"GUESSWHO_REDIS_DB"`
}

// RoomConfig lobby policy.
type RoomConfig struct {
	MinPlayers int `yaml:"min_players" env:"GUESSWHO_MIN_PLAYERS"`
	MaxPlayers int `yaml:"max_players" env:"GUESSWHO_MAX_PLAYERS"`
	// IdleTimeout bounds how long an untouched lobby record lives (minutes).
	IdleTimeout int `yaml:"idle_timeout" env:"GUESSWHO_ROOM_IDLE_TIMEOUT"`
}

// AuthConfig player token verification.
type AuthConfig struct {
	TokenSecret string `yaml:"token_secret" env:"GUESSWHO_TOKEN_SECRET"`
}

// IdleTimeoutDuration returns the room idle timeout.
func (c *RoomConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Minute
}

// Load reads the yaml config file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration, with env overrides applied.
func Default() *Config {
	cfg := &Config{}
	_ = env.Parse(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8480
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Room.MinPlayers == 0 {
		cfg.Room.MinPlayers = 2
	}
	if cfg.Room.MaxPlayers == 0 {
		cfg.Room.MaxPlayers = 8
	}
	if cfg.Room.IdleTimeout == 0 {
		cfg.Room.IdleTimeout = 120
	}
	if cfg.Auth.TokenSecret == "" {
		cfg.Auth.TokenSecret = "dev-secret-change-me"
	}
}
