// Package config provides configuration loading for the server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DispatchPolicy selects what happens when a second command arrives for a
// host whose in-flight cap is already taken.
type DispatchPolicy string

const (
	// PolicyQueue makes concurrent dispatches to one host wait FIFO for a
	// free slot, bounded by the caller's context.
	PolicyQueue DispatchPolicy = "queue"
	// PolicyReject fails immediately with a busy error.
	PolicyReject DispatchPolicy = "reject"
)

// Config holds all runtime settings with documented defaults.
type Config struct {
	Server struct {
		Port int
	}
	DB struct {
		Path string
	}
	Audit struct {
		Dir string
	}
	Pool struct {
		IdleTimeout  time.Duration
		ReapInterval time.Duration
	}
	Dispatch struct {
		PerHostCommands int
		Policy          DispatchPolicy
		DefaultTimeout  time.Duration
		MaxOutputBytes  int
	}
	Relay struct {
		BufferEvents     int
		SubscriberBuffer int
	}
	Log struct {
		Level string
	}
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with env overrides bound
// under the HOSTCONSOLE_ prefix.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HOSTCONSOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Parser{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.path", "data/console.db")
	v.SetDefault("audit.dir", "data/audit")
	v.SetDefault("pool.idle_timeout", 10*time.Minute)
	v.SetDefault("pool.reap_interval", time.Minute)
	v.SetDefault("dispatch.per_host_commands", 1)
	v.SetDefault("dispatch.policy", string(PolicyQueue))
	v.SetDefault("dispatch.default_timeout", 30*time.Second)
	v.SetDefault("dispatch.max_output_bytes", 1<<20)
	v.SetDefault("relay.buffer_events", 256)
	v.SetDefault("relay.subscriber_buffer", 64)
	v.SetDefault("log.level", "info")
}

// LoadFile loads configuration from a file path. An empty path loads
// defaults and environment overrides only.
func (p *Parser) LoadFile(path string) (*Config, error) {
	if path != "" {
		p.v.SetConfigFile(path)
		if err := p.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return p.parse()
}

func (p *Parser) parse() (*Config, error) {
	cfg := &Config{}

	cfg.Server.Port = p.v.GetInt("server.port")
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("server.port must be between 1 and 65535")
	}

	cfg.DB.Path = p.v.GetString("db.path")
	if cfg.DB.Path == "" {
		return nil, fmt.Errorf("db.path is required")
	}
	cfg.Audit.Dir = p.v.GetString("audit.dir")

	cfg.Pool.IdleTimeout = p.v.GetDuration("pool.idle_timeout")
	if cfg.Pool.IdleTimeout <= 0 {
		return nil, fmt.Errorf("pool.idle_timeout must be positive")
	}
	cfg.Pool.ReapInterval = p.v.GetDuration("pool.reap_interval")
	if cfg.Pool.ReapInterval <= 0 {
		return nil, fmt.Errorf("pool.reap_interval must be positive")
	}

	cfg.Dispatch.PerHostCommands = p.v.GetInt("dispatch.per_host_commands")
	if cfg.Dispatch.PerHostCommands < 1 {
		return nil, fmt.Errorf("dispatch.per_host_commands must be at least 1")
	}
	cfg.Dispatch.Policy = DispatchPolicy(p.v.GetString("dispatch.policy"))
	switch cfg.Dispatch.Policy {
	case PolicyQueue, PolicyReject:
	default:
		return nil, fmt.Errorf("dispatch.policy must be one of: queue, reject")
	}
	cfg.Dispatch.DefaultTimeout = p.v.GetDuration("dispatch.default_timeout")
	if cfg.Dispatch.DefaultTimeout <= 0 {
		return nil, fmt.Errorf("dispatch.default_timeout must be positive")
	}
	cfg.Dispatch.MaxOutputBytes = p.v.GetInt("dispatch.max_output_bytes")
	if cfg.Dispatch.MaxOutputBytes < 1 {
		return nil, fmt.Errorf("dispatch.max_output_bytes must be at least 1")
	}

	cfg.Relay.BufferEvents = p.v.GetInt("relay.buffer_events")
	if cfg.Relay.BufferEvents < 1 {
		return nil, fmt.Errorf("relay.buffer_events must be at least 1")
	}
	cfg.Relay.SubscriberBuffer = p.v.GetInt("relay.subscriber_buffer")
	if cfg.Relay.SubscriberBuffer < 1 {
		return nil, fmt.Errorf("relay.subscriber_buffer must be at least 1")
	}

	cfg.Log.Level = p.v.GetString("log.level")

	return cfg, nil
}
