// ABOUTME: Configuration loading for the lead-matrix bridge
// ABOUTME: Loads TOML config with environment variable expansion and a room to contact map

package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const defaultGatewayTimeout = 2 * time.Minute

type Config struct {
	Matrix  MatrixConfig  `toml:"matrix"`
	Gateway GatewayConfig `toml:"gateway"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Logging LoggingConfig `toml:"logging"`
}

// MatrixConfig holds either an access token or a password login.
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
}

type GatewayConfig struct {
	URL     string `toml:"url"`
	Token   string `toml:"token"` // JWT from `lead-gateway token --scopes prompt`
	Timeout string `toml:"timeout"`
}

type BridgeConfig struct {
	// Rooms maps a Matrix room id to the lead-gateway contact it speaks for.
	Rooms           map[string]string `toml:"rooms"`
	CommandPrefix   string            `toml:"command_prefix"`
	ResetCommand    string            `toml:"reset_command"` // needs an admin-scoped token
	TypingIndicator bool              `toml:"typing_indicator"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML config text.
func Parse(data string) (*Config, error) {
	expanded := expandEnvVars(data)

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// GatewayTimeout returns the per-request timeout for prompt calls.
func (c *Config) GatewayTimeout() time.Duration {
	if c.Gateway.Timeout == "" {
		return defaultGatewayTimeout
	}
	d, err := time.ParseDuration(c.Gateway.Timeout)
	if err != nil {
		return defaultGatewayTimeout
	}
	return d
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.AccessToken != "" {
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required with matrix.access_token")
		}
	} else if c.Matrix.Username == "" || c.Matrix.Password == "" {
		return fmt.Errorf("matrix.access_token or matrix.username and matrix.password are required")
	}

	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	if c.Gateway.Token == "" {
		return fmt.Errorf("gateway.token is required")
	}
	if c.Gateway.Timeout != "" {
		if d, err := time.ParseDuration(c.Gateway.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("gateway.timeout must be a positive duration")
		}
	}

	if len(c.Bridge.Rooms) == 0 {
		return fmt.Errorf("bridge.rooms must map at least one room to a contact")
	}
	for room, contact := range c.Bridge.Rooms {
		if !strings.HasPrefix(room, "!") {
			return fmt.Errorf("bridge.rooms: %q is not a room id", room)
		}
		if contact == "" {
			return fmt.Errorf("bridge.rooms: room %s has no contact", room)
		}
	}
	return nil
}
