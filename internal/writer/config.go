package writer

import (
	"time"

	"github.com/ktrn-dev/pipeline-client/internal/config"
)

// WriterConfig controls batching.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Queue limit; messages beyond it are dropped
}

// DefaultWriterConfig returns the config package defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     config.DefaultBatchSize,
		FlushInterval: config.DefaultFlushInterval,
		BufferSize:    config.DefaultBufferSize,
	}
}

// FromConfig maps the writer section of the file config.
func FromConfig(c config.WriterConfig) WriterConfig {
	cfg := DefaultWriterConfig()
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	if c.FlushInterval > 0 {
		cfg.FlushInterval = c.FlushInterval
	}
	if c.BufferSize > 0 {
		cfg.BufferSize = c.BufferSize
	}
	return cfg
}

// WriterMetrics counts writer outcomes.
type WriterMetrics struct {
	Received  int64 // Accepted into the queue
	Inserts   int64
	Conflicts int64
	Errors    int64 // Failed batches
	Flushes   int64
	Dropped   int64 // Queue full, or no database configured
}
