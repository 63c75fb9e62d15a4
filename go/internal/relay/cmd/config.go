package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/racelight/go/internal/relay"
	"gopkg.in/yaml.v3"
)

// Config is the relay process configuration. Values come from defaults, then
// the optional YAML file named by RELAY_CONFIG, then environment variables.
type Config struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	Passthrough bool   `yaml:"passthrough"`

	WebSocket struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		SendBuffer     int           `yaml:"send_buffer"`
		RateLimit      int           `yaml:"rate_limit"`
	} `yaml:"websocket"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

func defaultConfig() *Config {
	conn := relay.DefaultConnectionConfig()

	cfg := &Config{
		Port:     "8080",
		LogLevel: "info",
	}
	cfg.WebSocket.PingInterval = conn.PingInterval
	cfg.WebSocket.ReadTimeout = conn.ReadTimeout
	cfg.WebSocket.WriteTimeout = conn.WriteTimeout
	cfg.WebSocket.MaxMessageSize = conn.MaxMessageSize
	cfg.WebSocket.SendBuffer = conn.SendBufferSize
	cfg.WebSocket.RateLimit = relay.DefaultConfig().RateLimit
	cfg.NATS.SubjectPrefix = "racelight.rooms"
	cfg.CORS.AllowedOrigins = []string{"*"}
	return cfg
}

func loadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Port = getEnv("RELAY_PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Passthrough = getEnvAsBool("RELAY_PASSTHROUGH", cfg.Passthrough)
	cfg.WebSocket.PingInterval = getEnvAsDuration("WS_PING_INTERVAL", cfg.WebSocket.PingInterval)
	cfg.WebSocket.ReadTimeout = getEnvAsDuration("WS_READ_TIMEOUT", cfg.WebSocket.ReadTimeout)
	cfg.WebSocket.WriteTimeout = getEnvAsDuration("WS_WRITE_TIMEOUT", cfg.WebSocket.WriteTimeout)
	cfg.WebSocket.MaxMessageSize = int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", int(cfg.WebSocket.MaxMessageSize)))
	cfg.WebSocket.SendBuffer = getEnvAsInt("WS_SEND_BUFFER", cfg.WebSocket.SendBuffer)
	cfg.WebSocket.RateLimit = getEnvAsInt("WS_RATE_LIMIT", cfg.WebSocket.RateLimit)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.CORS.AllowedOrigins = strings.Split(origins, ",")
	}

	if cfg.WebSocket.ReadTimeout <= cfg.WebSocket.PingInterval {
		return nil, fmt.Errorf("websocket read timeout %s must exceed ping interval %s",
			cfg.WebSocket.ReadTimeout, cfg.WebSocket.PingInterval)
	}
	return cfg, nil
}

// relayConfig maps the process configuration onto the relay service's
func (c *Config) relayConfig() relay.Config {
	rc := relay.DefaultConfig()
	rc.Passthrough = c.Passthrough
	rc.RateLimit = c.WebSocket.RateLimit
	rc.ConnectionConfig.PingInterval = c.WebSocket.PingInterval
	rc.ConnectionConfig.ReadTimeout = c.WebSocket.ReadTimeout
	rc.ConnectionConfig.WriteTimeout = c.WebSocket.WriteTimeout
	rc.ConnectionConfig.MaxMessageSize = c.WebSocket.MaxMessageSize
	rc.ConnectionConfig.SendBufferSize = c.WebSocket.SendBuffer
	return rc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
