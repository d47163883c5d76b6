// Package config loads node, registry, client and server settings from TOML
// or YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the complete configuration of a node process.
type Config struct {
	Node     NodeConfig     `toml:"node" yaml:"node"`
	Registry RegistryConfig `toml:"registry" yaml:"registry"`
	Client   ClientConfig   `toml:"client" yaml:"client"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

type NodeConfig struct {
	Name string `toml:"name" yaml:"name"`
}

// RegistryConfig selects the service registry. Type is "etcd" or "memory".
type RegistryConfig struct {
	Type        string   `toml:"type" yaml:"type"`
	Endpoints   []string `toml:"endpoints" yaml:"endpoints"`
	DialTimeout Duration `toml:"dial_timeout" yaml:"dial_timeout"`
	TTL         int64    `toml:"ttl" yaml:"ttl"` // lease seconds for served services
}

type ClientConfig struct {
	Codec       string   `toml:"codec" yaml:"codec"`       // json | binary
	Balancer    string   `toml:"balancer" yaml:"balancer"` // round_robin | weighted_random | consistent_hash
	PoolSize    int      `toml:"pool_size" yaml:"pool_size"`
	Heartbeat   Duration `toml:"heartbeat" yaml:"heartbeat"`
	DialTimeout Duration `toml:"dial_timeout" yaml:"dial_timeout"`
}

type ServerConfig struct {
	Listen        string   `toml:"listen" yaml:"listen"`
	Advertise     string   `toml:"advertise" yaml:"advertise"`
	Weight        int      `toml:"weight" yaml:"weight"`
	RateLimit     float64  `toml:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
	Burst         int      `toml:"burst" yaml:"burst"`
	HandleTimeout Duration `toml:"handle_timeout" yaml:"handle_timeout"` // 0 disables
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`   // debug | info | warn | error
	Format string `toml:"format" yaml:"format"` // json | console
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Node: NodeConfig{Name: "svcrpc"},
		Registry: RegistryConfig{
			Type:        "etcd",
			Endpoints:   []string{"127.0.0.1:2379"},
			DialTimeout: Duration{5 * time.Second},
			TTL:         10,
		},
		Client: ClientConfig{
			Codec:       "json",
			Balancer:    "consistent_hash",
			PoolSize:    4,
			Heartbeat:   Duration{30 * time.Second},
			DialTimeout: Duration{5 * time.Second},
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:9090",
			Weight: 10,
			Burst:  1,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over Default. The format follows the extension:
// .toml, .yaml or .yml.
func Load(path string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if c.Node.Name == "" {
		errs = append(errs, errors.New("node.name is empty"))
	}
	switch c.Registry.Type {
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			errs = append(errs, errors.New("registry.endpoints is empty"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("registry.type %q is not etcd or memory", c.Registry.Type))
	}
	if c.Registry.TTL <= 0 {
		errs = append(errs, errors.New("registry.ttl must be positive"))
	}
	if c.Client.PoolSize <= 0 {
		errs = append(errs, errors.New("client.pool_size must be positive"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.Burst <= 0 {
		errs = append(errs, errors.New("server.burst must be positive when rate_limit is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Duration reads "1s"-style strings from TOML and YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}
