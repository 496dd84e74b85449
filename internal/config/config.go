// Package config loads the bridge and agent YAML configuration
// described in spec.md §6, following the teacher's
// cmd/supervisor/internal/superconfig.Load pattern: read file, decode
// YAML, fill defaults, validate required fields. Schema validation
// beyond the recognized option list stays out of scope (spec.md §1).
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bridge-side configuration tree.
type Config struct {
	SimulationBridge SimulationBridgeConfig `yaml:"simulation_bridge"`
	RabbitMQ         RabbitMQConfig         `yaml:"rabbitmq"`
	MQTT             MQTTConfig             `yaml:"mqtt"`
	REST             RESTConfig             `yaml:"rest"`
	Logging          LoggingConfig          `yaml:"logging"`
}

type SimulationBridgeConfig struct {
	BridgeID string `yaml:"bridge_id"`
}

type RabbitMQConfig struct {
	Host           string               `yaml:"host"`
	Port           int                  `yaml:"port"`
	VirtualHost    string               `yaml:"virtual_host"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
}

type InfrastructureConfig struct {
	Exchanges []ExchangeConfig `yaml:"exchanges"`
	Queues    []QueueConfig    `yaml:"queues"`
	Bindings  []BindingConfig  `yaml:"bindings"`
}

type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Durable bool   `yaml:"durable"`
}

type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	Exclusive  bool   `yaml:"exclusive"`
	AutoDelete bool   `yaml:"auto_delete"`
}

type BindingConfig struct {
	Exchange   string `yaml:"exchange"`
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
}

type MQTTConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	KeepAlive    int    `yaml:"keepalive"`
	InputTopic   string `yaml:"input_topic"`
	OutputTopic  string `yaml:"output_topic"`
	QoS          byte   `yaml:"qos"`
}

type RESTConfig struct {
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	InputEndpoint string           `yaml:"input_endpoint"`
	Client        RESTClientConfig `yaml:"client"`
	Debug         bool             `yaml:"debug"`
	CertFile      string           `yaml:"certfile"`
	KeyFile       string           `yaml:"keyfile"`
}

type RESTClientConfig struct {
	BaseURL        string `yaml:"base_url"`
	OutputEndpoint string `yaml:"output_endpoint"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads, expands, and validates the bridge configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyBridgeDefaults(&cfg)

	if cfg.SimulationBridge.BridgeID == "" {
		return nil, fmt.Errorf("simulation_bridge.bridge_id is required")
	}

	return &cfg, nil
}

func applyBridgeDefaults(cfg *Config) {
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
	if cfg.RabbitMQ.VirtualHost == "" {
		cfg.RabbitMQ.VirtualHost = "/"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = 60
	}
	if cfg.REST.Port == 0 {
		cfg.REST.Port = 8080
	}
	if cfg.REST.InputEndpoint == "" {
		cfg.REST.InputEndpoint = "/message"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:default} occurrences in s
// with the corresponding environment variable, or the default when
// the variable is unset or empty (spec.md §6). Environment always
// wins over a bare YAML literal, the same precedence the original
// config_manager.py gives secrets pulled from the environment.
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[3]
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return def
	})
}

// TLSEnabled reports whether the REST adapter should serve over TLS,
// per spec.md §6 ("Optional TLS when a certificate and key file are
// configured").
func (c *RESTConfig) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// ReconnectBackoff is the fabric's reconnect schedule: exponential,
// base delay, capped attempts (spec.md §4.1).
type ReconnectBackoff struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// DefaultReconnectBackoff matches spec.md §4.1: 5 attempts, 2s base.
func DefaultReconnectBackoff() ReconnectBackoff {
	return ReconnectBackoff{BaseDelay: 2 * time.Second, MaxAttempts: 5}
}

// Delay returns the backoff delay before attempt n (1-indexed),
// doubling each time: 2s, 4s, 8s, 16s, 32s for the default schedule.
func (b ReconnectBackoff) Delay(attempt int) time.Duration {
	d := b.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
