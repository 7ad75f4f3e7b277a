package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"wxreply/pkg/rules"
)

const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 5000
	DefaultWebhookPath = "/wechat"
	DefaultExchange    = "wxreply.events"

	// PlaceholderToken ships in example configs and must be replaced before serving.
	PlaceholderToken = "your_wechat_token_here"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	WeChat  WeChatConfig  `json:"wechat"`
	Gateway GatewayConfig `json:"gateway"`
	Admin   AdminConfig   `json:"admin"`
	Events  EventsConfig  `json:"events"`
	Rules   RulesConfig   `json:"rules"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
	File      string `json:"file,omitempty" env:"WXREPLY_LOG_FILE"`
}

// WeChatConfig configures the platform webhook.
type WeChatConfig struct {
	Token     string   `json:"token"      env:"WECHAT_TOKEN"`
	Path      string   `json:"path"       env:"WXREPLY_WECHAT_PATH"`
	AllowFrom []string `json:"allow_from" env:"WXREPLY_WECHAT_ALLOW_FROM"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host" env:"WXREPLY_GATEWAY_HOST"`
	Port int    `json:"port" env:"WXREPLY_GATEWAY_PORT"`
}

// AdminConfig enables the bearer-protected rule management API.
type AdminConfig struct {
	Enabled bool   `json:"enabled" env:"WXREPLY_ADMIN_ENABLED"`
	Token   string `json:"token"   env:"WXREPLY_ADMIN_TOKEN"`
}

// EventsConfig configures forwarding of gateway events to RabbitMQ. Empty AMQPURL disables it.
type EventsConfig struct {
	AMQPURL  string `json:"amqp_url" env:"WXREPLY_EVENTS_AMQP_URL"`
	Exchange string `json:"exchange" env:"WXREPLY_EVENTS_EXCHANGE"`
}

// RulesConfig adds pattern rules after the built-in defaults.
type RulesConfig struct {
	Extra []rules.Spec `json:"extra,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		WeChat:  WeChatConfig{Path: DefaultWebhookPath},
		Gateway: GatewayConfig{Host: DefaultHost, Port: DefaultPort},
		Events:  EventsConfig{Exchange: DefaultExchange},
	}
}

// Addr is the listen address for the gateway.
func (c GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ExtraRules compiles the configured extra rules.
func (c RulesConfig) ExtraRules() ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(c.Extra))
	for i, spec := range c.Extra {
		rule, err := spec.Rule()
		if err != nil {
			return nil, fmt.Errorf("rules.extra[%d]: %w", i, err)
		}
		out = append(out, rule)
	}

	return out, nil
}

// LoadConfig resolves config.json, unmarshals it onto the defaults, and applies environment
// overrides. A missing config file is not an error unless WXREPLY_CONFIG names it.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	cfg.normalize()

	return cfg, nil
}

func (c *Config) normalize() {
	c.WeChat.Token = strings.TrimSpace(c.WeChat.Token)
	c.WeChat.AllowFrom = compact(c.WeChat.AllowFrom)
	if strings.TrimSpace(c.WeChat.Path) == "" {
		c.WeChat.Path = DefaultWebhookPath
	}
	if strings.TrimSpace(c.Gateway.Host) == "" {
		c.Gateway.Host = DefaultHost
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultPort
	}
	if strings.TrimSpace(c.Events.Exchange) == "" {
		c.Events.Exchange = DefaultExchange
	}
}

// Validate reports every setting that would stop the gateway from serving.
func (c *Config) Validate() error {
	var errs []error

	switch c.WeChat.Token {
	case "":
		errs = append(errs, errors.New("wechat.token is required (set WECHAT_TOKEN)"))
	case PlaceholderToken:
		errs = append(errs, errors.New("wechat.token still holds the example placeholder"))
	}

	if !strings.HasPrefix(c.WeChat.Path, "/") {
		errs = append(errs, fmt.Errorf("wechat.path must be absolute, got %q", c.WeChat.Path))
	}

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port))
	}

	if c.Admin.Enabled && strings.TrimSpace(c.Admin.Token) == "" {
		errs = append(errs, errors.New("admin.token is required when admin.enabled is true"))
	}

	if _, err := c.Rules.ExtraRules(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// compact trims values and drops empty entries.
func compact(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return clean
}

// findConfigPath resolves the active config file location, or "" when none exists.
//
// Precedence is WXREPLY_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("WXREPLY_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("WXREPLY_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
