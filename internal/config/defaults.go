package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRetryInterval  = 10 * time.Second
	DefaultMaxRetries     = 5
	DefaultConnectTimeout = 30 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultPingInterval   = 15 * time.Second
	DefaultPingTimeout    = 60 * time.Second
	DefaultSendQueueSize  = 256
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 4
	DefaultMinConns       = 1
	DefaultBatchSize      = 100
	DefaultFlushInterval  = 1 * time.Second
	DefaultBufferSize     = 1000
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// ApplyDefaults fills unset optional fields. It is applied by
// LoadWithDefaults and may be called directly on a Config built in code.
func (c *Config) ApplyDefaults() {
	// Connection defaults
	if c.Connection.RetryInterval == 0 {
		c.Connection.RetryInterval = DefaultRetryInterval
	}
	if c.Connection.MaxRetries == nil {
		n := DefaultMaxRetries
		c.Connection.MaxRetries = &n
	}
	if c.Connection.ConnectTimeout == nil {
		c.Connection.ConnectTimeout = durationPtr(DefaultConnectTimeout)
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == nil {
		c.Connection.PingInterval = durationPtr(DefaultPingInterval)
	}
	if c.Connection.PingTimeout == nil {
		c.Connection.PingTimeout = durationPtr(DefaultPingTimeout)
	}
	if c.Connection.SendQueueSize == 0 {
		c.Connection.SendQueueSize = DefaultSendQueueSize
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
