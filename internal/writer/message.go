package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ktrn-dev/pipeline-client/internal/pipeline"
	"github.com/ktrn-dev/pipeline-client/internal/queue"
)

// Batcher sends a pgx batch. *pgxpool.Pool satisfies it.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertMessage = `
	INSERT INTO pipeline_messages (id, type, content, received_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO NOTHING
`

// MessageWriter batches pipeline messages into the pipeline_messages table.
type MessageWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the pipeline observer
	input *queue.Buffer[pipeline.Message]

	// Database; nil drops every message (dry run)
	db Batcher

	// Batching; writeCtx (guarded by batchMu) bounds database writes and
	// outlives the loop context so a stop can still drain the queue.
	batch    []pipeline.Message
	batchMu  sync.Mutex
	writeCtx context.Context

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	consumed chan struct{}
	wg       sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewMessageWriter creates a writer. Pass a nil db to run without a database.
func NewMessageWriter(cfg WriterConfig, db Batcher, logger *slog.Logger) *MessageWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &MessageWriter{
		cfg:    cfg,
		input:  queue.New[pipeline.Message](min(cfg.BatchSize, max(cfg.BufferSize, 1)), cfg.BufferSize),
		db:     db,
		logger: logger.With("component", "writer"),
		batch:  make([]pipeline.Message, 0, cfg.BatchSize),

		consumed: make(chan struct{}),
	}
}

// Observe queues m for writing. It never blocks; it returns false when the
// queue is full or the writer has stopped.
func (w *MessageWriter) Observe(m pipeline.Message) bool {
	return w.input.Send(m)
}

// Start begins consuming messages and writing to the database.
func (w *MessageWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.batchMu.Lock()
	w.writeCtx = context.WithoutCancel(ctx)
	w.batchMu.Unlock()

	// Consumer goroutine
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("message writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"dry_run", w.db == nil,
	)
	return nil
}

// Stop closes the queue, waits for queued messages to be batched and
// performs a final flush. Writes made while stopping run under ctx, so the
// context given to Start may already be cancelled.
func (w *MessageWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping message writer")

	w.batchMu.Lock()
	w.writeCtx = ctx
	w.batchMu.Unlock()

	w.input.Close()

	if w.cancel != nil {
		select {
		case <-w.consumed:
		case <-ctx.Done():
			w.logger.Warn("message writer stop timed out", "queued", w.input.Len())
		}
		w.cancel()
		w.wg.Wait()
	}

	// Final flush runs under the caller's context.
	w.flushWith(ctx)

	w.logger.Info("message writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (w *MessageWriter) Stats() WriterMetrics {
	q := w.input.Stats()

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Received = q.Received
	m.Dropped += q.Dropped
	return m
}

// consumeLoop moves queued messages into the batch until the queue is
// closed and drained.
func (w *MessageWriter) consumeLoop() {
	defer close(w.consumed)

	for {
		msgs := w.input.ReceiveBatch(w.cfg.BatchSize)
		if msgs == nil {
			return
		}
		w.handleMessages(msgs)
	}
}

// flushLoop periodically flushes the batch.
func (w *MessageWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

// handleMessages adds messages to the batch, flushing when it is full.
func (w *MessageWriter) handleMessages(msgs []pipeline.Message) {
	w.batchMu.Lock()
	w.batch = append(w.batch, msgs...)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

func (w *MessageWriter) flush() {
	w.batchMu.Lock()
	ctx := w.writeCtx
	w.batchMu.Unlock()

	w.flushWith(ctx)
}

// flushWith writes the current batch to the database.
func (w *MessageWriter) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]pipeline.Message, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.db == nil {
		w.batchMu.Lock()
		w.metrics.Dropped += int64(len(batch))
		w.batchMu.Unlock()
		w.logger.Debug("no database, dropping batch", "count", len(batch))
		return
	}

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *MessageWriter) batchInsert(ctx context.Context, rows []pipeline.Message) (conflicts int, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batch := &pgx.Batch{}
	for _, m := range rows {
		batch.Queue(insertMessage, m.ID, m.Type, m.Content, m.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
