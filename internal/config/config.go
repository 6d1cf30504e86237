// ABOUTME: Configuration loading and parsing for coagent-demo
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coagent-demo configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Runtime  RuntimeConfig  `yaml:"runtime" toml:"runtime"`
	Shell    ShellConfig    `yaml:"shell" toml:"shell"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	ReadHeaderTimeout    time.Duration `yaml:"-" toml:"-"`
	ReadHeaderTimeoutRaw string        `yaml:"read_header_timeout" toml:"read_header_timeout"`
}

// RemoteEndpointConfig points at a remote agent process
type RemoteEndpointConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// RuntimeConfig configures the gateway endpoint that relays chat requests
// to the remote agent.
type RuntimeConfig struct {
	// Endpoint is the local route the runtime is mounted on.
	Endpoint        string                 `yaml:"endpoint" toml:"endpoint"`
	RemoteEndpoints []RemoteEndpointConfig `yaml:"remote_endpoints" toml:"remote_endpoints"`
	ServiceAdapter  string                 `yaml:"service_adapter" toml:"service_adapter"`

	// RequestTimeout bounds a single upstream request. Zero means no bound.
	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// LabelsConfig holds chat widget label text
type LabelsConfig struct {
	Title   string `yaml:"title" toml:"title"`
	Initial string `yaml:"initial" toml:"initial"`
}

// ShellConfig holds the presentation shell configuration
type ShellConfig struct {
	Agent          string       `yaml:"agent" toml:"agent"`
	Mode           string       `yaml:"mode" toml:"mode"`
	DefaultOpen    bool         `yaml:"default_open" toml:"default_open"`
	Instructions   string       `yaml:"instructions" toml:"instructions"`
	Labels         LabelsConfig `yaml:"labels" toml:"labels"`
	ThemeColor     string       `yaml:"theme_color" toml:"theme_color"`
	HistoryVariant string       `yaml:"history_variant" toml:"history_variant"`
}

// DatabaseConfig holds the optional journal configuration.
// An empty path disables the journal.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Shell modes
const (
	ModeSidebar = "sidebar"
	ModePopup   = "popup"
)

// Search history shapes
const (
	HistoryRecords = "records"
	HistoryStrings = "strings"
)

// AdapterEmpty is the only supported service adapter.
const AdapterEmpty = "empty"

const defaultInstructions = "您应尽可能地帮助用户。请根据您拥有的数据以最佳方式回答问题。"

const defaultInitial = `# 👋 您好！

我是你的智能Copilot。演示功能：

- **共享状态**: 搜索历史实时的展示
- **前端工具**: 调用前端工具打招呼
- **生成式UI**: 获取天气信息展示卡片
- **HITL流程**: 工具调用的人工审核`

// Default returns the built-in configuration of the demo.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:          "localhost:3000",
			ReadHeaderTimeout: 10 * time.Second,
		},
		Runtime: RuntimeConfig{
			Endpoint: "/api/copilotkit",
			RemoteEndpoints: []RemoteEndpointConfig{
				{URL: "http://localhost:8080/copilotkit"},
			},
			ServiceAdapter: AdapterEmpty,
		},
		Shell: ShellConfig{
			Agent:        "sample_agent",
			Mode:         ModeSidebar,
			DefaultOpen:  true,
			Instructions: defaultInstructions,
			Labels: LabelsConfig{
				Title:   "智能AI Copilot",
				Initial: defaultInitial,
			},
			ThemeColor:     "#3b82f6",
			HistoryVariant: HistoryRecords,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Unset fields keep their Default() values.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the file at path, falling back to Default() when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// RemoteURL returns the single configured remote agent URL.
func (c *Config) RemoteURL() string {
	if len(c.Runtime.RemoteEndpoints) == 0 {
		return ""
	}
	return c.Runtime.RemoteEndpoints[0].URL
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if !strings.HasPrefix(c.Runtime.Endpoint, "/") || strings.Trim(c.Runtime.Endpoint, "/") == "" {
		return fmt.Errorf("runtime.endpoint must be a path below '/': %q", c.Runtime.Endpoint)
	}

	if len(c.Runtime.RemoteEndpoints) != 1 {
		return fmt.Errorf("runtime.remote_endpoints must contain exactly one endpoint, got %d", len(c.Runtime.RemoteEndpoints))
	}
	u, err := url.Parse(c.Runtime.RemoteEndpoints[0].URL)
	if err != nil {
		return fmt.Errorf("runtime.remote_endpoints[0].url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("runtime.remote_endpoints[0].url must be an absolute http(s) URL: %q", c.Runtime.RemoteEndpoints[0].URL)
	}

	if c.Runtime.ServiceAdapter != AdapterEmpty {
		return fmt.Errorf("runtime.service_adapter %q is not supported (only %q)", c.Runtime.ServiceAdapter, AdapterEmpty)
	}

	if c.Shell.Agent == "" {
		return fmt.Errorf("shell.agent is required")
	}

	switch c.Shell.Mode {
	case ModeSidebar, ModePopup:
	default:
		return fmt.Errorf("shell.mode must be %q or %q, got %q", ModeSidebar, ModePopup, c.Shell.Mode)
	}

	switch c.Shell.HistoryVariant {
	case HistoryRecords, HistoryStrings:
	default:
		return fmt.Errorf("shell.history_variant must be %q or %q, got %q", HistoryRecords, HistoryStrings, c.Shell.HistoryVariant)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/': %q", c.Metrics.Path)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ReadHeaderTimeoutRaw != "" {
		cfg.Server.ReadHeaderTimeout, err = time.ParseDuration(cfg.Server.ReadHeaderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_header_timeout %q: %w", cfg.Server.ReadHeaderTimeoutRaw, err)
		}
	}

	if cfg.Runtime.RequestTimeoutRaw != "" {
		cfg.Runtime.RequestTimeout, err = time.ParseDuration(cfg.Runtime.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Runtime.RequestTimeoutRaw, err)
		}
	}

	return nil
}
