// Package config provides configuration parsing and validation for socks5d.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for socks5d, matching the
// server/server.protocol YAML structure.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig configures the listening endpoint and the prefork supervisor.
type ServerConfig struct {
	// Address is the interface address the master listener binds to.
	Address string `yaml:"address"`

	// Port is the TCP port the master listener binds to.
	Port uint16 `yaml:"port"`

	// WorkerProcessNum is the number of worker processes to fork. 0 means
	// the supervisor runs a single in-process worker with no forking.
	WorkerProcessNum uint32 `yaml:"worker_process_num"`

	Protocol ProtocolConfig `yaml:"protocol"`
}

// ProtocolConfig configures per-session SOCKS5 behavior.
type ProtocolConfig struct {
	// KeepAliveTime is the idle timeout, in seconds, after which a session
	// is torn down. It applies from accept onward, including the TCP and
	// UDP relay phases.
	KeepAliveTime uint32 `yaml:"keep_alive_time"`

	// CheckDuration is the interval, in seconds, at which the deadline
	// timer re-checks session liveness.
	CheckDuration uint32 `yaml:"check_duration"`

	// Auth enables username/password sub-negotiation (RFC 1929). When
	// false, sessions authenticate via the no-auth method only.
	Auth bool `yaml:"auth"`

	Credentials []Credential `yaml:"credentials"`
}

// Credential is one username/password pair accepted during sub-negotiation.
// Password is a bcrypt hash produced by HashPassword, not plaintext.
type Credential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns a Config populated with the defaults from spec.md §6:
// address 127.0.0.1, port 1080, worker count from logical CPU count,
// 30s keep-alive, 1s check duration, auth disabled.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:          "127.0.0.1",
			Port:             1080,
			WorkerProcessNum: defaultWorkerCount(),
			Protocol: ProtocolConfig{
				KeepAliveTime: 30,
				CheckDuration: 1,
				Auth:          false,
				Credentials:   []Credential{},
			},
		},
	}
}

// defaultWorkerCount reports the number of logical CPUs available, the way
// an operator would size one worker process per core. Falls back to 1 if
// the host's CPU topology cannot be read.
func defaultWorkerCount() uint32 {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 1
	}
	return uint32(n)
}

// Load reads and parses a configuration file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults for any
// field left unset and validating the result.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values,
// so credentials can be supplied out-of-band instead of committed to disk.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for structural errors that Default()
// cannot have introduced on its own (i.e. values that only a malformed file
// can produce).
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port must be non-zero")
	}

	if c.Server.Protocol.Auth && len(c.Server.Protocol.Credentials) == 0 {
		return fmt.Errorf("server.protocol.auth is true but no credentials are configured")
	}

	seen := make(map[string]struct{}, len(c.Server.Protocol.Credentials))
	for i, cred := range c.Server.Protocol.Credentials {
		if cred.Username == "" {
			return fmt.Errorf("server.protocol.credentials[%d].username must not be empty", i)
		}
		if cred.Password == "" {
			return fmt.Errorf("server.protocol.credentials[%d].password must not be empty", i)
		}
		if _, dup := seen[cred.Username]; dup {
			return fmt.Errorf("server.protocol.credentials[%d]: duplicate username %q", i, cred.Username)
		}
		seen[cred.Username] = struct{}{}
	}

	return nil
}

// Addr returns the "host:port" listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// KeepAlive returns the keep-alive time as a time.Duration.
func (p ProtocolConfig) KeepAlive() time.Duration {
	return time.Duration(p.KeepAliveTime) * time.Second
}

// CheckInterval returns the deadline-check interval as a time.Duration.
func (p ProtocolConfig) CheckInterval() time.Duration {
	return time.Duration(p.CheckDuration) * time.Second
}

// HashedCredentialMap builds a username->bcrypt-hash map suitable for
// internal/socks5.HashedCredentials from the configured credential list.
func (p ProtocolConfig) HashedCredentialMap() map[string]string {
	m := make(map[string]string, len(p.Credentials))
	for _, cred := range p.Credentials {
		m[cred.Username] = cred.Password
	}
	return m
}
