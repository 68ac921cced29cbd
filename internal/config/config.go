// ABOUTME: Configuration loading and parsing for relay-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Workflow     WorkflowConfig     `yaml:"workflow"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// AuthConfig holds authentication and signing configuration.
// JWTSecret verifies bearer tokens on the API surface; TokenSigningSecret
// signs approval tokens handed to the workflow engine. They are separate so
// rotating one does not invalidate the other.
type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	TokenSigningSecret string `yaml:"token_signing_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve TLS with Tailscale certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS); exposes webhook endpoints
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ControlPlaneConfig holds the connection to the external control plane that
// owns approval envelopes and decision records.
type ControlPlaneConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// WorkflowConfig holds the connection to the external workflow orchestrator.
type WorkflowConfig struct {
	BaseURL   string `yaml:"base_url"`
	TaskQueue string `yaml:"task_queue"`

	ResultTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ResultTimeoutRaw string `yaml:"result_timeout"`
}

// ChannelsConfig holds configuration for all messaging channel integrations
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// BotEntry describes one bot credential in the multi-bot directory.
type BotEntry struct {
	ID         string   `yaml:"id"`
	Token      string   `yaml:"token"`
	Username   string   `yaml:"username"`
	Workspaces []string `yaml:"workspaces"`
}

// TelegramConfig holds bot-protocol channel configuration.
// Bots is the multi-tenant directory; Token is the single-bot legacy mode
// used when no bots are listed.
type TelegramConfig struct {
	Enabled    bool       `yaml:"enabled"`
	Token      string     `yaml:"token"`
	Bots       []BotEntry `yaml:"bots"`
	DefaultBot string     `yaml:"default_bot"`
}

// WhatsAppConfig holds business-messaging channel configuration
type WhatsAppConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	VerifyToken   string `yaml:"verify_token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Bot entries need both an id and a token to be usable
	for i, bot := range c.Channels.Telegram.Bots {
		if bot.ID == "" {
			return fmt.Errorf("channels.telegram.bots[%d].id is required", i)
		}
		if bot.Token == "" {
			return fmt.Errorf("channels.telegram.bots[%d].token is required", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Workflow.ResultTimeoutRaw != "" {
		cfg.Workflow.ResultTimeout, err = time.ParseDuration(cfg.Workflow.ResultTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing result_timeout %q: %w", cfg.Workflow.ResultTimeoutRaw, err)
		}
	}
	if cfg.Workflow.ResultTimeout == 0 {
		cfg.Workflow.ResultTimeout = 60 * time.Second
	}

	return nil
}
