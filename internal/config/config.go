// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/fundview/gateway/internal/domain"
)

// Config represents the main configuration structure
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
	Services []ServiceConfig `yaml:"services"`
	Security *SecurityConfig `yaml:"security,omitempty"`
}

// ServerConfig contains admin HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// ServiceConfig describes one backend service the gateway fronts
type ServiceConfig struct {
	Name            string                       `yaml:"name"`
	Instances       []InstanceConfig             `yaml:"instances"`
	Strategy        domain.LoadBalancingStrategy `yaml:"strategy,omitempty"`
	RateLimit       *domain.RateLimitConfig      `yaml:"rate_limit,omitempty"`
	CircuitBreaker  *domain.CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
	HealthCheckPath string                       `yaml:"health_check_path,omitempty"`
	Timeout         time.Duration                `yaml:"timeout,omitempty"`
}

// InstanceConfig describes one backend instance of a service
type InstanceConfig struct {
	BaseURL string `yaml:"base_url"`
}

// SecurityConfig configures the delegated request validator
type SecurityConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer,omitempty"`
	Audience  string `yaml:"audience,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration from the file named by the GATEWAY_CONFIG
// environment variable (falling back to path), applies environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if env := os.Getenv("GATEWAY_CONFIG"); env != "" {
		path = env
	}

	// A missing file falls back to defaults plus environment overrides.
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment override file values.
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("GATEWAY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("GATEWAY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if secret := os.Getenv("GATEWAY_JWT_SECRET"); secret != "" {
		if cfg.Security == nil {
			cfg.Security = &SecurityConfig{}
		}
		cfg.Security.JWTSecret = secret
	}
}

// Validate rejects invalid configuration before the gateway is built.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	seen := make(map[string]bool)
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service %d has no name", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true

		if len(svc.Instances) == 0 {
			return fmt.Errorf("service %q has no instances", svc.Name)
		}
		for j, inst := range svc.Instances {
			if inst.BaseURL == "" {
				return fmt.Errorf("service %q instance %d has no base URL", svc.Name, j)
			}
		}

		switch svc.Strategy {
		case "", domain.RoundRobinStrategy, domain.RandomStrategy, domain.LeastPendingStrategy:
		default:
			return fmt.Errorf("service %q has unsupported strategy %q", svc.Name, svc.Strategy)
		}

		if svc.RateLimit != nil && svc.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("service %q has non-positive rate limit", svc.Name)
		}
		if svc.CircuitBreaker != nil {
			if svc.CircuitBreaker.FailureThreshold <= 0 {
				return fmt.Errorf("service %q has non-positive failure threshold", svc.Name)
			}
			if svc.CircuitBreaker.RecoveryTimeout <= 0 {
				return fmt.Errorf("service %q has non-positive recovery timeout", svc.Name)
			}
		}
	}

	if c.Security != nil && c.Security.JWTSecret == "" {
		return fmt.Errorf("security section present but jwt_secret is empty")
	}
	return nil
}
