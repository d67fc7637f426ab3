package config

import (
	"net/http"
	"time"

	"github.com/ktrn-dev/pipeline-client/internal/connection"
)

// Config is the root configuration for a listener instance.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Database   DBConfig         `yaml:"database"`
	Writer     WriterConfig     `yaml:"writer"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ConnectionConfig holds the pipeline WebSocket settings.
type ConnectionConfig struct {
	Address        string            `yaml:"address"` // wss://... including any auth query
	Headers        map[string]string `yaml:"headers"`
	RetryInterval  time.Duration     `yaml:"retry_interval"`
	MaxRetries     *int              `yaml:"max_retries"` // nil = default, 0 = never reconnect
	ConnectTimeout *time.Duration    `yaml:"connect_timeout"` // nil = default, 0 = no handshake bound
	WriteTimeout   time.Duration     `yaml:"write_timeout"`
	PingInterval   *time.Duration    `yaml:"ping_interval"` // nil = default, 0 = no heartbeat
	PingTimeout    *time.Duration    `yaml:"ping_timeout"`  // nil = default, 0 = no stale check
	SendQueueSize  int               `yaml:"send_queue_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Retries returns the configured reconnect budget, falling back to the
// default when unset.
func (c ConnectionConfig) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// ManagerConfig maps the connection section onto a connection.Config.
// Unset fields keep the connection package defaults; an explicit zero
// timeout or interval disables that feature.
func (c ConnectionConfig) ManagerConfig() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.Address = c.Address
	cfg.MaxRetries = c.Retries()

	if len(c.Headers) > 0 {
		cfg.Header = make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			cfg.Header.Set(k, v)
		}
	}
	if c.RetryInterval > 0 {
		cfg.RetryInterval = c.RetryInterval
	}
	if c.ConnectTimeout != nil {
		cfg.ConnectTimeout = *c.ConnectTimeout
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	if c.PingInterval != nil {
		cfg.PingInterval = *c.PingInterval
	}
	if c.PingTimeout != nil {
		cfg.PingTimeout = *c.PingTimeout
	}
	if c.SendQueueSize > 0 {
		cfg.SendQueueSize = c.SendQueueSize
	}
	return cfg
}
