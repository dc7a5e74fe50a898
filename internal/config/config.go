// Package config holds the daemon's resolved startup parameters.
//
// A Config is filled from command-line switches, optionally overlaid with a
// YAML file, validated once, and then treated as read-only for the life of the
// process. Only the allow-list and the null-auth flag are re-read on reload.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPort          = "2002"
	DefaultActivePort    = "2003"
	DefaultActiveBackoff = 30 * time.Second
	DefaultRedisKey      = "rpcapd:hosts"
	MaxActiveTargets     = 10

	WorkerTask    = "task"
	WorkerProcess = "process"
)

// activeListSep matches the separator set accepted for -a and host lists.
const activeListSep = " ,;\n\r\t"

// ActiveTarget is one peer the daemon dials out to in active mode.
type ActiveTarget struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	// KeepAfterClose keeps reconnecting even after the peer explicitly
	// closed the active session.
	KeepAfterClose bool `yaml:"keep_after_close,omitempty"`
}

func (t ActiveTarget) String() string { return t.Host + ":" + t.Port }

type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Key      string `yaml:"key,omitempty"`
}

// Config holds all runtime configuration derived from switches and the optional file.
type Config struct {
	Address       string         `yaml:"address"`
	Port          string         `yaml:"port"`
	IPv4Only      bool           `yaml:"ipv4_only"`
	Passive       bool           `yaml:"passive"`
	NullAuth      bool           `yaml:"null_auth"`
	HostsFile     string         `yaml:"hosts_file,omitempty"`
	Hosts         []string       `yaml:"hosts,omitempty"`
	Active        []ActiveTarget `yaml:"active,omitempty"`
	Worker        string         `yaml:"worker"`
	ActiveBackoff time.Duration  `yaml:"active_backoff"`
	MaxSessions   int            `yaml:"max_sessions,omitempty"`
	AcceptRate    int            `yaml:"accept_rate,omitempty"`
	AcceptBurst   int            `yaml:"accept_burst,omitempty"`
	Resolver      string         `yaml:"resolver,omitempty"`
	MetricsAddr   string         `yaml:"metrics_addr,omitempty"`
	Redis         RedisConfig    `yaml:"redis,omitempty"`
	Debug         bool           `yaml:"debug,omitempty"`

	// Process-level switches; never persisted.
	Daemon  bool   `yaml:"-"`
	PidFile string `yaml:"-"`
	LogFile string `yaml:"-"`
}

// Default returns the configuration used when no switch or file overrides it.
func Default() Config {
	return Config{
		Port:          DefaultPort,
		Passive:       true,
		Worker:        WorkerTask,
		ActiveBackoff: DefaultActiveBackoff,
	}
}

// Validate ensures the configuration is coherent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port must not be empty")
	}
	switch c.Worker {
	case WorkerTask, WorkerProcess:
	default:
		return fmt.Errorf("unsupported worker %q (supported: %s, %s)", c.Worker, WorkerTask, WorkerProcess)
	}
	if len(c.Active) > MaxActiveTargets {
		return fmt.Errorf("only %d active targets are supported, got %d", MaxActiveTargets, len(c.Active))
	}
	for i, t := range c.Active {
		if t.Host == "" {
			return fmt.Errorf("active target %d: empty host", i)
		}
	}
	if c.ActiveBackoff <= 0 {
		return fmt.Errorf("active backoff must be positive, got %s", c.ActiveBackoff)
	}
	if c.MaxSessions < 0 || c.AcceptRate < 0 || c.AcceptBurst < 0 {
		return errors.New("max-sessions, accept-rate and accept-burst must not be negative")
	}
	if !c.Passive && len(c.Active) == 0 {
		return errors.New("passive mode disabled and no active targets configured")
	}
	return nil
}

// RedisKey returns the Redis set holding allow-list entries.
func (c *Config) RedisKey() string {
	if c.Redis.Key != "" {
		return c.Redis.Key
	}
	return DefaultRedisKey
}

// ParseActiveList parses "host,port[,host,port...]". A missing port or the
// literal DEFAULT selects DefaultActivePort.
func ParseActiveList(s string) ([]ActiveTarget, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return strings.ContainsRune(activeListSep, r) })
	var out []ActiveTarget
	for i := 0; i < len(fields); i += 2 {
		t := ActiveTarget{Host: fields[i], Port: DefaultActivePort}
		if i+1 < len(fields) && fields[i+1] != "DEFAULT" {
			t.Port = fields[i+1]
		}
		out = append(out, t)
	}
	if len(out) > MaxActiveTargets {
		return nil, fmt.Errorf("only %d active targets are supported, got %d", MaxActiveTargets, len(out))
	}
	return out, nil
}
