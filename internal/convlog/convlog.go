// Package convlog is the default production implementation of the
// Conversation Manager's Logger collaborator: it persists sealed
// conversations to SQLite without ever blocking the caller, and
// serializes concurrent fire-and-forget callers internally.
package convlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/npcmediator/engine/pkg/npctypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_logs (
	id TEXT PRIMARY KEY,
	reason TEXT NOT NULL,
	turns TEXT NOT NULL,
	sealed_at DATETIME NOT NULL
);
`

const saveQueueSize = 256

// saveJob is one sealed conversation waiting to be written.
type saveJob struct {
	id       string
	reason   string
	turns    []npctypes.Turn
	sealedAt time.Time
}

// Logger writes sealed conversations to a SQLite database through a
// single background worker, so concurrent Save calls never contend on
// the database connection and never block the caller.
type Logger struct {
	db   *sql.DB
	jobs chan saveJob
	done chan struct{}
}

// Open creates or opens the SQLite database at dsn, applies the schema,
// and starts the background writer. Callers should defer Close.
func Open(dsn string) (*Logger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("convlog: open %q: %w", dsn, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("convlog: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("convlog: set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("convlog: create schema: %w", err)
	}

	l := &Logger{
		db:   db,
		jobs: make(chan saveJob, saveQueueSize),
		done: make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Save enqueues turns for persistence under reason and returns
// immediately. If the internal queue is full the save is dropped and a
// warning is logged; per the propagation policy, log-write failures
// (including backpressure) are swallowed, never propagated to the
// caller.
func (l *Logger) Save(turns []npctypes.Turn, reason string) {
	job := saveJob{
		id:       uuid.NewString(),
		reason:   reason,
		turns:    append([]npctypes.Turn(nil), turns...),
		sealedAt: time.Now(),
	}

	select {
	case l.jobs <- job:
	default:
		log.Printf("convlog: save queue full, dropping conversation reason=%s", reason)
	}
}

// run is the single writer goroutine; it owns the only open connection,
// so writes never race each other.
func (l *Logger) run() {
	defer close(l.done)
	for job := range l.jobs {
		l.write(job)
	}
}

func (l *Logger) write(job saveJob) {
	data, err := json.Marshal(job.turns)
	if err != nil {
		log.Printf("convlog: marshal conversation %s: %v", job.id, err)
		return
	}

	_, err = l.db.Exec(
		"INSERT INTO conversation_logs (id, reason, turns, sealed_at) VALUES (?, ?, ?, ?)",
		job.id, job.reason, string(data), job.sealedAt,
	)
	if err != nil {
		log.Printf("convlog: write conversation %s: %v", job.id, err)
	}
}

// Close stops accepting new saves, drains the pending queue, and
// closes the database connection.
func (l *Logger) Close() error {
	close(l.jobs)
	<-l.done
	return l.db.Close()
}
