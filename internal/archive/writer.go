package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the events table.
const Schema = `
CREATE TABLE IF NOT EXISTS appsync_events (
	event_id        UUID PRIMARY KEY,
	subscription_id BIGINT NOT NULL,
	operation       TEXT NOT NULL,
	payload         JSONB NOT NULL,
	received_at     TIMESTAMPTZ NOT NULL
)`

const insertEvent = `
	INSERT INTO appsync_events (event_id, subscription_id, operation, payload, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (event_id) DO NOTHING`

// DB is the subset of *pgxpool.Pool the writer needs.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Event is one subscription payload.
type Event struct {
	ID             uuid.UUID
	SubscriptionID uint64
	Operation      string
	Payload        json.RawMessage
	ReceivedAt     time.Time
}

// NewEvent stamps payload with a fresh id and the current time.
func NewEvent(subscriptionID uint64, operation string, payload json.RawMessage) Event {
	return Event{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Operation:      operation,
		Payload:        payload,
		ReceivedAt:     time.Now().UTC(),
	}
}

// Config configures a Writer.
type Config struct {
	BatchSize     int           // Flush when this many events are pending
	FlushInterval time.Duration // Flush at least this often
	BufferSize    int           // Capacity of the input queue
}

// DefaultConfig returns the default writer configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats counts writer activity.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// Writer batches events into the appsync_events table.
type Writer struct {
	cfg    Config
	db     DB
	logger *slog.Logger

	input chan Event

	batch   []Event
	batchMu sync.Mutex
	stats   Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a writer. Call Start before Add.
func NewWriter(cfg Config, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "archive"),
		input:  make(chan Event, cfg.BufferSize),
		batch:  make([]Event, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the events table if it does not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	return nil
}

// Start begins consuming events.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
}

// Add queues an event without blocking. It reports false and counts a drop
// when the queue is full.
func (w *Writer) Add(e Event) bool {
	select {
	case w.input <- e:
		return true
	default:
		w.batchMu.Lock()
		w.stats.Dropped++
		w.batchMu.Unlock()
		return false
	}
}

// Stop ends consumption and flushes everything queued. ctx bounds the
// final flush.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	for pending := true; pending; {
		select {
		case e := <-w.input:
			w.appendEvent(e)
		default:
			pending = false
		}
	}

	err := w.flush(ctx)
	w.logger.Info("archive writer stopped", "inserts", w.Stats().Inserts)
	return err
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-w.input:
			if w.appendEvent(e) {
				w.flush(ctx)
			}
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// appendEvent adds e to the batch and reports whether the batch is full.
func (w *Writer) appendEvent(e Event) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, e)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

func (w *Writer) batchInsert(ctx context.Context, events []Event) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEvent,
			e.ID.String(),
			int64(e.SubscriptionID),
			e.Operation,
			string(e.Payload),
			e.ReceivedAt,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
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
