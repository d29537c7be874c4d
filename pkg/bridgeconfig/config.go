// Package bridgeconfig is the single entry point for the bridge's
// configuration: a YAML tree with env-var expansion and a Validate
// chain, mirroring this codebase's unified config-file convention.
package bridgeconfig

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete bridge configuration.
type Config struct {
	Service  ServiceConfig `yaml:"service"`
	Host     HostConfig    `yaml:"host"`
	Logging  LoggingConfig `yaml:"logging"`
	Metrics  MetricsConfig `yaml:"metrics"`
	StateDir string        `yaml:"state_dir,omitempty"`
}

// ServiceConfig describes how to reach the Service (GitLab instance +
// Duo Workflow backend).
type ServiceConfig struct {
	InstanceURL        string `yaml:"instance_url"`
	WorkflowDefinition string `yaml:"workflow_definition"`
	Environment        string `yaml:"environment"`
	SocketURL          string `yaml:"socket_url,omitempty"`
	RootNamespaceID    string `yaml:"root_namespace_id,omitempty"`
}

// HostConfig describes the Host integration surface.
type HostConfig struct {
	ClientVersion string   `yaml:"client_version"`
	MCPTools      []string `yaml:"mcp_tools,omitempty"`
}

// LoggingConfig controls bridgelog.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

// MetricsConfig controls bridgemetrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// SetDefaults fills in zero-valued fields with the bridge's defaults.
func (c *Config) SetDefaults() {
	if c.Service.WorkflowDefinition == "" {
		c.Service.WorkflowDefinition = "software_development"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "ide"
	}
	if c.Host.ClientVersion == "" {
		c.Host.ClientVersion = "0.1.0"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.StateDir == "" {
		c.StateDir = ".duo-workflow-bridge"
	}
}

// Validate checks that required fields are present and well-formed.
func (c *Config) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service config validation failed: %w", err)
	}
	if c.Host.ClientVersion == "" {
		return fmt.Errorf("host config validation failed: client_version is required")
	}
	return nil
}

// Validate checks ServiceConfig's required fields.
func (s *ServiceConfig) Validate() error {
	if s.InstanceURL == "" {
		return fmt.Errorf("instance_url is required")
	}
	if !strings.HasPrefix(s.InstanceURL, "http://") && !strings.HasPrefix(s.InstanceURL, "https://") {
		return fmt.Errorf("instance_url must be an absolute http(s) URL, got %q", s.InstanceURL)
	}
	if s.WorkflowDefinition == "" {
		return fmt.Errorf("workflow_definition is required")
	}
	return nil
}

// SocketURLOrDefault derives a wss:// socket URL from InstanceURL when
// SocketURL is not set explicitly.
func (s *ServiceConfig) SocketURLOrDefault() string {
	if s.SocketURL != "" {
		return s.SocketURL
	}
	url := s.InstanceURL
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimRight(url, "/")
	return "wss://" + url + "/api/v4/ai/duo_workflows/ws"
}

// Load reads path, expands ${VAR} / ${VAR:-default} / $VAR references
// against the process environment, applies defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := expandEnvVars(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads a .env file from the current directory into the
// process environment, if present. Absence is not an error.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load()
}

var (
	envWithDefaultRE = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	envBracedRE      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	envSimpleRE      = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// expandEnvVars expands ${VAR:-default}, ${VAR}, and $VAR references
// against the process environment, most-specific pattern first.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envWithDefaultRE.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefaultRE.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envBracedRE.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBracedRE.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	s = envSimpleRE.ReplaceAllStringFunc(s, func(match string) string {
		parts := envSimpleRE.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	return s
}

// ResolveLogLevel applies CLI-flag > env-var > config-file > default
// precedence for the log level, matching the Host CLI's convention.
func ResolveLogLevel(cliFlag string, cfg *Config) string {
	if cliFlag != "" {
		return cliFlag
	}
	if v := os.Getenv("DUO_WORKFLOW_BRIDGE_LOG_LEVEL"); v != "" {
		return v
	}
	if cfg != nil && cfg.Logging.Level != "" {
		return cfg.Logging.Level
	}
	return "info"
}

// DialTimeout is a small helper kept here (rather than in wsocket) so
// the config package stays the single place duration parsing happens.
func DialTimeout(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
