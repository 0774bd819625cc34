// Package config loads and validates gateway configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Robots  RobotsConfig  `mapstructure:"robots"`
	Guard   GuardConfig   `mapstructure:"guard"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	HandlerTimeout    time.Duration `mapstructure:"handler_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// GatewayConfig governs the outbound fetch.
type GatewayConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	AgentToken     string        `mapstructure:"agent_token"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	AllowedSchemes []string      `mapstructure:"allowed_schemes"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// RobotsConfig controls robots.txt enforcement.
type RobotsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

// GuardConfig selects the resolver and the optional post-check hardening.
type GuardConfig struct {
	// DNSServers switches resolution from the system resolver to direct queries.
	DNSServers          []string      `mapstructure:"dns_servers"`
	DNSTimeout          time.Duration `mapstructure:"dns_timeout"`
	DenyHosts           []string      `mapstructure:"deny_hosts"`
	RevalidateRedirects bool          `mapstructure:"revalidate_redirects"`
	DialCheck           bool          `mapstructure:"dial_check"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig selects the span exporter and root sampling ratio.
type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.handler_timeout", 60*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("gateway.user_agent", "FetchGateBot/1.0 (+https://github.com/JakeFAU/fetchgate)")
	v.SetDefault("gateway.agent_token", "FetchGateBot")
	v.SetDefault("gateway.accept_language", "en-US,en;q=0.9")
	v.SetDefault("gateway.allowed_schemes", []string{"http", "https"})
	v.SetDefault("gateway.fetch_timeout", 15*time.Second)
	v.SetDefault("gateway.max_body_bytes", 10<<20)
	v.SetDefault("robots.enabled", true)
	v.SetDefault("robots.timeout", 5*time.Second)
	v.SetDefault("robots.max_bytes", 512<<10)
	v.SetDefault("guard.dns_servers", []string{})
	v.SetDefault("guard.dns_timeout", 3*time.Second)
	v.SetDefault("guard.deny_hosts", []string{})
	v.SetDefault("guard.revalidate_redirects", false)
	v.SetDefault("guard.dial_check", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.ReadHeaderTimeout <= 0 || c.Server.ShutdownTimeout <= 0 || c.Server.HandlerTimeout <= 0 {
		return errors.New("server timeouts must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Gateway.UserAgent) == "" {
		return errors.New("gateway.user_agent must be set")
	}
	if len(c.Gateway.AllowedSchemes) == 0 {
		return errors.New("gateway.allowed_schemes must not be empty")
	}
	for _, scheme := range c.Gateway.AllowedSchemes {
		switch strings.ToLower(strings.TrimSpace(scheme)) {
		case "http", "https":
		default:
			return fmt.Errorf("gateway.allowed_schemes: unsupported scheme %q", scheme)
		}
	}
	if c.Gateway.FetchTimeout <= 0 {
		return errors.New("gateway.fetch_timeout must be > 0")
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		return errors.New("gateway.max_body_bytes must be > 0")
	}
	if c.Robots.Enabled && c.Robots.Timeout <= 0 {
		return errors.New("robots.timeout must be > 0 when robots is enabled")
	}
	if c.Robots.MaxBytes < 0 {
		return errors.New("robots.max_bytes must be >= 0")
	}
	if len(c.Guard.DNSServers) > 0 && c.Guard.DNSTimeout <= 0 {
		return errors.New("guard.dns_timeout must be > 0 when dns_servers are set")
	}
	switch c.Tracing.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter: unsupported exporter %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}
