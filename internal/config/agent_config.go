package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentConfig is the simulator-agent-side configuration tree
// (spec.md §6, "Agent-side" block).
type AgentConfig struct {
	Agent              AgentIdentity          `yaml:"agent"`
	Simulation         SimulationPathConfig   `yaml:"simulation"`
	RabbitMQ           RabbitMQConfig         `yaml:"rabbitmq"`
	TCP                TCPConfig              `yaml:"tcp"`
	ResponseTemplates  ResponseTemplatesConfig `yaml:"response_templates"`
	Performance        PerformanceConfig      `yaml:"performance"`
	Logging            LoggingConfig          `yaml:"logging"`
}

type AgentIdentity struct {
	AgentID string `yaml:"agent_id"`
}

type SimulationPathConfig struct {
	Path string `yaml:"path"`
}

type TCPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ResponseTemplatesConfig struct {
	Success   TemplateConfig `yaml:"success"`
	Error     TemplateConfig `yaml:"error"`
	Progress  TemplateConfig `yaml:"progress"`
	Streaming TemplateConfig `yaml:"streaming"`
}

// TemplateConfig carries per-template, config-gated knobs: the
// error-code table (error template only) and stack-trace inclusion.
type TemplateConfig struct {
	ErrorCodes        map[string]int `yaml:"error_codes,omitempty"`
	IncludeStackTrace bool           `yaml:"include_stack_trace,omitempty"`
}

type PerformanceConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogDir      string `yaml:"log_dir"`
	LogFilename string `yaml:"log_filename"`
}

// LoadAgent reads, expands, and validates an agent configuration file.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}

	expanded := ExpandEnv(string(data))

	var cfg AgentConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse agent config: %w", err)
	}

	applyAgentDefaults(&cfg)

	if cfg.Agent.AgentID == "" {
		return nil, fmt.Errorf("agent.agent_id is required")
	}
	if cfg.Simulation.Path == "" {
		return nil, fmt.Errorf("simulation.path is required")
	}

	return &cfg, nil
}

func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
	if cfg.RabbitMQ.VirtualHost == "" {
		cfg.RabbitMQ.VirtualHost = "/"
	}
	if cfg.TCP.Host == "" {
		cfg.TCP.Host = "127.0.0.1"
	}
	if cfg.TCP.Port == 0 {
		cfg.TCP.Port = 0 // 0 means "let the OS pick a free port"
	}
	if cfg.Performance.LogFilename == "" {
		cfg.Performance.LogFilename = "performance.csv"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
