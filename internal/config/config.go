package config

import (
	"fmt"
	"time"

	"github.com/corebank/dualmount/internal/model"
)

// Config represents the dual-mount coordinator configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Node       NodeConfig       `mapstructure:"node"`
	Targets    []TargetConfig   `mapstructure:"targets"`
	Write      WriteConfig      `mapstructure:"write"`
	Health     HealthConfig     `mapstructure:"health"`
	Validation ValidationConfig `mapstructure:"validation"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig represents the HTTP API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// NodeConfig identifies this node. Account is the trust-domain label
// stamped into write metadata (for example "savings" or "corebank").
type NodeConfig struct {
	ID      string `mapstructure:"id"`
	Account string `mapstructure:"account"`
}

// TargetConfig declares one mounted storage target.
type TargetConfig struct {
	ID       string `mapstructure:"id"`
	RootPath string `mapstructure:"root_path"`
	Role     string `mapstructure:"role"`
}

// WriteConfig tunes the write coordinator.
type WriteConfig struct {
	Policy         string        `mapstructure:"policy"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	OverallTimeout time.Duration `mapstructure:"overall_timeout"`
}

// HealthConfig tunes the health monitor.
type HealthConfig struct {
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// ValidationConfig tunes the consistency validator. PeerURL points at the
// HTTP API of the node on the other side of the trust boundary; when empty,
// scenarios poll through this node's own read router.
type ValidationConfig struct {
	PollInterval   time.Duration    `mapstructure:"poll_interval"`
	MaxWait        time.Duration    `mapstructure:"max_wait"`
	AttemptTimeout time.Duration    `mapstructure:"attempt_timeout"`
	Concurrency    int              `mapstructure:"concurrency"`
	PeerURL        string           `mapstructure:"peer_url"`
	ScenariosFile  string           `mapstructure:"scenarios_file"`
	Scenarios      []model.Scenario `mapstructure:"scenarios"`
}

// RateLimitConfig represents API rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// MetricsConfig represents Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns default configuration values. Mount paths default
// to the conventional locations for the local and corebank EFS volumes.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Node: NodeConfig{
			ID:      "dualmount-1",
			Account: "unknown",
		},
		Targets: []TargetConfig{
			{ID: "local-efs", RootPath: "/mnt/efs-local", Role: "local"},
			{ID: "corebank-efs", RootPath: "/mnt/efs-corebank", Role: "shared"},
		},
		Write: WriteConfig{
			Policy:         "require_local",
			AttemptTimeout: 10 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 200 * time.Millisecond,
			RetryMaxDelay:  2 * time.Second,
			OverallTimeout: 30 * time.Second,
		},
		Health: HealthConfig{
			ProbeTimeout:  3 * time.Second,
			ProbeInterval: 15 * time.Second,
			TTL:           15 * time.Second,
		},
		Validation: ValidationConfig{
			PollInterval:   time.Second,
			MaxWait:        30 * time.Second,
			AttemptTimeout: 2 * time.Second,
			Concurrency:    1,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 100,
			Burst:             50,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}

	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	seen := make(map[string]bool, len(c.Targets))
	var locals, shareds int
	for _, t := range c.Targets {
		if t.ID == "" {
			return fmt.Errorf("target id is required")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = true
		if t.RootPath == "" {
			return fmt.Errorf("target %s: root_path is required", t.ID)
		}
		role := model.Role(t.Role)
		if !role.Valid() {
			return fmt.Errorf("target %s: role must be %q or %q, got %q", t.ID, model.RoleLocal, model.RoleShared, t.Role)
		}
		switch role {
		case model.RoleLocal:
			locals++
		case model.RoleShared:
			shareds++
		}
	}
	if locals == 0 {
		return fmt.Errorf("at least one target with role %q is required", model.RoleLocal)
	}
	if shareds == 0 {
		return fmt.Errorf("at least one target with role %q is required", model.RoleShared)
	}

	if _, err := model.ParsePolicy(c.Write.Policy); err != nil {
		return fmt.Errorf("write.policy: %w", err)
	}
	if c.Write.AttemptTimeout <= 0 {
		return fmt.Errorf("write.attempt_timeout must be positive")
	}
	if c.Write.MaxRetries < 1 {
		return fmt.Errorf("write.max_retries must be at least 1")
	}
	if c.Write.RetryBaseDelay <= 0 || c.Write.RetryMaxDelay < c.Write.RetryBaseDelay {
		return fmt.Errorf("write retry delays must be positive with max >= base")
	}
	if c.Write.OverallTimeout <= 0 {
		return fmt.Errorf("write.overall_timeout must be positive")
	}

	if c.Health.ProbeTimeout <= 0 || c.Health.ProbeInterval <= 0 || c.Health.TTL <= 0 {
		return fmt.Errorf("health probe_timeout, probe_interval and ttl must be positive")
	}

	if c.Validation.PollInterval <= 0 || c.Validation.MaxWait <= 0 || c.Validation.AttemptTimeout <= 0 {
		return fmt.Errorf("validation poll_interval, max_wait and attempt_timeout must be positive")
	}
	if c.Validation.Concurrency < 1 {
		return fmt.Errorf("validation.concurrency must be at least 1")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit requests_per_second and burst must be positive when enabled")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
		}
		if c.Metrics.Path == "" {
			return fmt.Errorf("metrics.path is required when metrics are enabled")
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// TargetList converts the configured targets into model values.
func (c *Config) TargetList() []model.Target {
	targets := make([]model.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		targets = append(targets, model.Target{
			ID:       t.ID,
			RootPath: t.RootPath,
			Role:     model.Role(t.Role),
		})
	}
	return targets
}

// DefaultScenarios returns the built-in consistency suite: one propagation
// check in each direction across the trust boundary. Zero durations fall
// back to the validation config at run time.
func DefaultScenarios() []model.Scenario {
	return []model.Scenario{
		{Name: "local-to-shared", WriterRole: model.RoleLocal, ReaderRole: model.RoleShared},
		{Name: "shared-to-local", WriterRole: model.RoleShared, ReaderRole: model.RoleLocal},
	}
}
