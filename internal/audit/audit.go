// Package audit provides asynchronous call-audit logging for the
// validation service.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Call outcomes recorded in the audit log.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
)

// Event represents a single validation call to be logged. NationalID is
// the raw submitted candidate string; derived identity fields are never
// recorded.
type Event struct {
	Timestamp  time.Time
	NationalID string
	Service    string
	ClientIP   string
	UserAgent  string
	// Outcome is "ok", "rate_limited", or a validation error kind.
	Outcome    string
	DurationMS int64
}

// Logger is an asynchronous event logger that batches writes to reduce
// database load and keep the request path free of audit latency.
type Logger struct {
	db     *sql.DB
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	mu            sync.RWMutex
	eventsLogged  int64
	eventsDropped int64
}

// Config holds configuration for the audit logger.
type Config struct {
	DB            *sql.DB
	BufferSize    int           // Size of event channel buffer (default: 100)
	BatchSize     int           // Number of events to batch before writing (default: 100)
	FlushInterval time.Duration // Maximum time before flushing (default: 5s)
}

// New creates a new audit logger and starts the background worker.
func New(cfg Config) (*Logger, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("audit: database connection is required")
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	logger := &Logger{
		db:            cfg.DB,
		events:        make(chan Event, cfg.BufferSize),
		done:          make(chan struct{}),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
	}

	// Test DB connection before starting worker.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cfg.DB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("audit: database not available: %w", err)
	}

	logger.wg.Add(1)
	go logger.worker()

	return logger, nil
}

// Log queues an event for asynchronous logging. This method is
// non-blocking and will drop events if the buffer is full to avoid
// impacting request latency.
func (l *Logger) Log(event Event) {
	select {
	case l.events <- event:
	default:
		l.mu.Lock()
		l.eventsDropped++
		l.mu.Unlock()
		slog.Warn("audit: event buffer full, dropping event")
	}
}

// Close gracefully shuts down the logger, flushing all pending events.
func (l *Logger) Close(ctx context.Context) error {
	close(l.done)

	doneCh := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: shutdown timeout exceeded")
	}
}

// Stats returns current logger statistics.
func (l *Logger) Stats() (logged, dropped int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.eventsLogged, l.eventsDropped
}

// worker batches and writes events to the database.
func (l *Logger) worker() {
	defer l.wg.Done()

	batch := make([]Event, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.events:
			batch = append(batch, event)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}

		case <-l.done:
			l.drainAndFlush(batch)
			return
		}
	}
}

// flush writes a batch of events to the database.
func (l *Logger) flush(events []Event) {
	if len(events) == 0 {
		return
	}

	// Skip flush if DB is not properly initialized (e.g., in tests).
	if l.db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("audit: failed to begin transaction", "error", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO call_log (
			"timestamp", national_id, service_name, client_ip,
			user_agent, outcome, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		slog.Error("audit: failed to prepare statement", "error", err)
		return
	}
	defer stmt.Close()

	for _, event := range events {
		_, err := stmt.ExecContext(ctx,
			event.Timestamp,
			event.NationalID,
			event.Service,
			event.ClientIP,
			event.UserAgent,
			event.Outcome,
			event.DurationMS,
		)
		if err != nil {
			slog.Error("audit: failed to insert event", "error", err)
			// Continue with other events.
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("audit: failed to commit transaction", "error", err)
		return
	}

	l.mu.Lock()
	l.eventsLogged += int64(len(events))
	l.mu.Unlock()
}

// drainAndFlush drains remaining events from the channel and flushes them.
func (l *Logger) drainAndFlush(batch []Event) {
	for {
		select {
		case event := <-l.events:
			batch = append(batch, event)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				l.flush(batch)
			}
			return
		}
	}
}
