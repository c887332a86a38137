package sessionlog

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cogstate/internal/logging"
	"cogstate/internal/pipeline"
)

// Writer defaults.
const (
	DefaultBufferSize    = 512
	DefaultBatchSize     = 64
	DefaultFlushInterval = time.Second
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
	// Crash, when set, records a panic in the write loop instead of
	// letting it take down the process.
	Crash *logging.CrashHandler
}

// Writer is an asynchronous RecordSink backed by a Store. Emit never blocks:
// records that do not fit in the buffer are dropped and counted.
type Writer struct {
	store     *Store
	sessionID string
	cfg       WriterConfig
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan pipeline.Record
	done   chan struct{}

	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

var _ pipeline.RecordSink = (*Writer)(nil)

// NewWriter starts a writer for sessionID.
func NewWriter(store *Store, sessionID string, cfg WriterConfig) *Writer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		store:     store,
		sessionID: sessionID,
		cfg:       cfg,
		logger:    logger.With("component", "sessionlog"),
		ch:        make(chan pipeline.Record, cfg.BufferSize),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

// Emit queues r for writing.
func (w *Writer) Emit(r pipeline.Record) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.ch <- r:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns the number of records discarded because the buffer was
// full or the writer was closed.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Written returns the number of records committed to the store.
func (w *Writer) Written() uint64 { return w.written.Load() }

// Failed returns the number of records lost to store errors.
func (w *Writer) Failed() uint64 { return w.failed.Load() }

// Close flushes buffered records and stops the writer. Calling Close twice
// returns ErrWriterClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	<-w.done
	return nil
}

func (w *Writer) run() {
	defer close(w.done)
	defer w.cfg.Crash.RecoverGoroutine()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]pipeline.Record, 0, w.cfg.BatchSize)
	for {
		select {
		case r, ok := <-w.ch:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, r)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *Writer) flush(batch []pipeline.Record) {
	if len(batch) == 0 {
		return
	}
	if err := w.store.InsertRecords(w.sessionID, batch); err != nil {
		w.failed.Add(uint64(len(batch)))
		w.logger.Error("write records", "count", len(batch), "error", err)
		return
	}
	w.written.Add(uint64(len(batch)))
}
