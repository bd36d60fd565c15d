// ABOUTME: Configuration loading and parsing for lead-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Assistant backends.
const (
	BackendOpenAI = "openai"
	BackendFake   = "fake"
)

// DefaultGraphAPIBase is the WhatsApp Cloud API root used when none is configured.
const DefaultGraphAPIBase = "https://graph.facebook.com/v21.0"

// Config represents the complete lead-gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	WhatsApp      WhatsAppConfig      `yaml:"whatsapp"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Qualification QualificationConfig `yaml:"qualification"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Expose the webhook publicly over Funnel (HTTPS on :443)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds API authentication configuration.
// An empty JWTSecret disables the /api routes.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// OpenAIConfig configures the assistant backend and the qualification classifier
type OpenAIConfig struct {
	Backend         string        `yaml:"backend"` // openai (default) or fake
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	AssistantID     string        `yaml:"assistant_id"`
	Instructions    string        `yaml:"instructions"`
	ClassifierModel string        `yaml:"classifier_model"`
	MaxRetries      int           `yaml:"max_retries"`
	RequestTimeout  time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// WhatsAppConfig configures the Cloud API client and webhook
type WhatsAppConfig struct {
	Enabled       bool    `yaml:"enabled"`
	APIBase       string  `yaml:"api_base"`
	PhoneNumberID string  `yaml:"phone_number_id"`
	AccessToken   string  `yaml:"access_token"`
	VerifyToken   string  `yaml:"verify_token"`
	AppSecret     string  `yaml:"app_secret"` // enables X-Hub-Signature-256 checks
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	MarkRead      bool    `yaml:"mark_read"`
	DedupeSize    int     `yaml:"dedupe_size"`

	RequestTimeout time.Duration `yaml:"-"`
	DedupeTTL      time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl"`
}

// OrchestratorConfig holds turn and run polling configuration
type OrchestratorConfig struct {
	PollMultiplier       float64           `yaml:"poll_multiplier"`
	MaxConsecutiveErrors int               `yaml:"max_consecutive_errors"`
	ReplyScanLimit       int               `yaml:"reply_scan_limit"`
	Preambles            map[string]string `yaml:"preambles"` // business model -> template override

	TurnTimeout         time.Duration `yaml:"-"`
	RunTimeout          time.Duration `yaml:"-"`
	PollInitialInterval time.Duration `yaml:"-"`
	PollMaxInterval     time.Duration `yaml:"-"`

	TurnTimeoutRaw         string `yaml:"turn_timeout"`
	RunTimeoutRaw          string `yaml:"run_timeout"`
	PollInitialIntervalRaw string `yaml:"poll_initial_interval"`
	PollMaxIntervalRaw     string `yaml:"poll_max_interval"`
}

// QualificationConfig selects how BANT signals are detected
type QualificationConfig struct {
	Mode    string        `yaml:"mode"` // classifier (default) or heuristic
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// ToolsConfig holds tool registry configuration
type ToolsConfig struct {
	Timeout  time.Duration `yaml:"-"`
	Disabled []string      `yaml:"disabled"`

	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json or color
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.OpenAI.Backend == "" {
		c.OpenAI.Backend = BackendOpenAI
	}
	if c.OpenAI.RequestTimeout == 0 {
		c.OpenAI.RequestTimeout = 30 * time.Second
	}
	if c.WhatsApp.APIBase == "" {
		c.WhatsApp.APIBase = DefaultGraphAPIBase
	}
	if c.WhatsApp.RatePerSecond == 0 {
		c.WhatsApp.RatePerSecond = 20
	}
	if c.WhatsApp.Burst == 0 {
		c.WhatsApp.Burst = 10
	}
	if c.WhatsApp.RequestTimeout == 0 {
		c.WhatsApp.RequestTimeout = 15 * time.Second
	}
	if c.Orchestrator.TurnTimeout == 0 {
		c.Orchestrator.TurnTimeout = 120 * time.Second
	}
	if c.Qualification.Mode == "" {
		c.Qualification.Mode = "classifier"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.OpenAI.Backend {
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required")
		}
		if c.OpenAI.AssistantID == "" {
			return fmt.Errorf("openai.assistant_id is required")
		}
	case BackendFake:
	default:
		return fmt.Errorf("openai.backend must be %q or %q, got %q", BackendOpenAI, BackendFake, c.OpenAI.Backend)
	}

	if c.WhatsApp.Enabled {
		if c.WhatsApp.AccessToken == "" {
			return fmt.Errorf("whatsapp.access_token is required when whatsapp is enabled")
		}
		if c.WhatsApp.PhoneNumberID == "" {
			return fmt.Errorf("whatsapp.phone_number_id is required when whatsapp is enabled")
		}
		if c.WhatsApp.VerifyToken == "" {
			return fmt.Errorf("whatsapp.verify_token is required when whatsapp is enabled")
		}
	}
	if c.WhatsApp.RatePerSecond < 0 {
		return fmt.Errorf("whatsapp.rate_per_second must not be negative")
	}

	if c.Orchestrator.PollMultiplier != 0 && c.Orchestrator.PollMultiplier < 1 {
		return fmt.Errorf("orchestrator.poll_multiplier must be at least 1")
	}
	if c.Orchestrator.RunTimeout > 0 && c.Orchestrator.RunTimeout > c.Orchestrator.TurnTimeout {
		return fmt.Errorf("orchestrator.run_timeout (%s) must not exceed turn_timeout (%s)",
			c.Orchestrator.RunTimeout, c.Orchestrator.TurnTimeout)
	}

	if !slices.Contains([]string{"classifier", "heuristic"}, c.Qualification.Mode) {
		return fmt.Errorf("qualification.mode must be classifier or heuristic, got %q", c.Qualification.Mode)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if !slices.Contains([]string{"text", "json", "color"}, c.Logging.Format) {
		return fmt.Errorf("logging.format must be text, json or color, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"openai.request_timeout", cfg.OpenAI.RequestTimeoutRaw, &cfg.OpenAI.RequestTimeout},
		{"whatsapp.request_timeout", cfg.WhatsApp.RequestTimeoutRaw, &cfg.WhatsApp.RequestTimeout},
		{"whatsapp.dedupe_ttl", cfg.WhatsApp.DedupeTTLRaw, &cfg.WhatsApp.DedupeTTL},
		{"orchestrator.turn_timeout", cfg.Orchestrator.TurnTimeoutRaw, &cfg.Orchestrator.TurnTimeout},
		{"orchestrator.run_timeout", cfg.Orchestrator.RunTimeoutRaw, &cfg.Orchestrator.RunTimeout},
		{"orchestrator.poll_initial_interval", cfg.Orchestrator.PollInitialIntervalRaw, &cfg.Orchestrator.PollInitialInterval},
		{"orchestrator.poll_max_interval", cfg.Orchestrator.PollMaxIntervalRaw, &cfg.Orchestrator.PollMaxInterval},
		{"qualification.timeout", cfg.Qualification.TimeoutRaw, &cfg.Qualification.Timeout},
		{"tools.timeout", cfg.Tools.TimeoutRaw, &cfg.Tools.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
