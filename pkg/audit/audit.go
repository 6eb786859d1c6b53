// Package audit implements the optional, best-effort Postgres sink for
// terminal Task outcomes. Writing an audit record never blocks or fails a
// Task: Record enqueues onto a bounded channel drained by a background
// worker, and a full queue simply drops the record with a logged warning
// rather than applying backpressure to the coordinator.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// TaskAuditRecord is one terminal Task outcome.
type TaskAuditRecord struct {
	TaskID     string
	PluginID   string
	Outcome    string // "success" | "failure"
	Kind       string // oracleerr.Kind, or "" on success
	StartedAt  time.Time
	FinishedAt time.Time
	PeerCount  int
}

// Sink is the audit write surface the task coordinator depends on.
type Sink interface {
	Record(ctx context.Context, record TaskAuditRecord)
	Close() error
}

// Metrics is the subset of metrics.Recorder the sink reports against;
// declared here so this package never imports metrics directly.
type Metrics interface {
	SetAuditQueueDepth(depth int)
	IncAuditWriteFailure()
}

const queueCapacity = 1024

// Factory returns a Postgres-backed Sink when dsn is non-empty, or a no-op
// Sink otherwise — absence of the sink never blocks a Task. recorder may
// be nil.
func Factory(dsn string, logger *zap.Logger, recorder Metrics) (Sink, error) {
	if dsn == "" {
		return noopSink{}, nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ensure schema: %w", err)
	}

	sink := &pgSink{
		db:      db,
		logger:  logger,
		recorder: recorder,
		queue:   make(chan TaskAuditRecord, queueCapacity),
		done:    make(chan struct{}),
	}
	go sink.run()
	return sink, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS task_audit_records (
	task_id     TEXT PRIMARY KEY,
	plugin_id   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	peer_count  INT NOT NULL
)`)
	return err
}

type noopSink struct{}

func (noopSink) Record(context.Context, TaskAuditRecord) {}
func (noopSink) Close() error                            { return nil }

type pgSink struct {
	db       *sql.DB
	logger   *zap.Logger
	recorder Metrics
	queue    chan TaskAuditRecord
	done     chan struct{}
}

func (s *pgSink) Record(_ context.Context, record TaskAuditRecord) {
	select {
	case s.queue <- record:
		if s.recorder != nil {
			s.recorder.SetAuditQueueDepth(len(s.queue))
		}
	default:
		if s.logger != nil {
			s.logger.Warn("audit queue full, dropping record", zap.String("taskId", record.TaskID))
		}
		if s.recorder != nil {
			s.recorder.IncAuditWriteFailure()
		}
	}
}

func (s *pgSink) run() {
	defer close(s.done)
	for record := range s.queue {
		s.insert(record)
		if s.recorder != nil {
			s.recorder.SetAuditQueueDepth(len(s.queue))
		}
	}
}

func (s *pgSink) insert(record TaskAuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_audit_records (task_id, plugin_id, outcome, kind, started_at, finished_at, peer_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (task_id) DO NOTHING`,
		record.TaskID, record.PluginID, record.Outcome, record.Kind,
		record.StartedAt, record.FinishedAt, record.PeerCount)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("audit insert failed", zap.Error(err), zap.String("taskId", record.TaskID))
		}
		if s.recorder != nil {
			s.recorder.IncAuditWriteFailure()
		}
	}
}

func (s *pgSink) Close() error {
	close(s.queue)
	<-s.done
	return s.db.Close()
}
