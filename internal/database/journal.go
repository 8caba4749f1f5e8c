package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/delight/relay/internal/relay"
	"github.com/bhandras/delight/relay/shared/logger"
)

const journalQueueSize = 256

// SessionRecord is one journaled session.
type SessionRecord struct {
	SessionID      string     `json:"sessionId"`
	PrincipalID    string     `json:"principalId"`
	Transport      string     `json:"transport"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
	RequestCount   int64      `json:"requestCount"`
	CancelledCount int64      `json:"cancelledCount"`
	CloseReason    string     `json:"closeReason,omitempty"`
}

type journalOp struct {
	open      bool
	session   relay.Session
	reason    relay.CloseReason
	cancelled int
	closedAt  time.Time
}

// Journal records session opens and closes. Writes are queued and applied by
// a single goroutine so relay operations never wait on disk; when the queue
// is full entries are dropped with a warning.
type Journal struct {
	db  *DB
	ops chan journalOp
	wg  sync.WaitGroup
	now func() time.Time

	// mu guards closed and every send on ops.
	mu     sync.Mutex
	closed bool
}

var _ relay.Observer = (*Journal)(nil)

// NewJournal starts the journal writer.
func NewJournal(db *DB) *Journal {
	j := &Journal{
		db:  db,
		ops: make(chan journalOp, journalQueueSize),
		now: time.Now,
	}
	j.wg.Add(1)
	go j.run()
	return j
}

func (j *Journal) enqueue(op journalOp) {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Sessions torn down during shutdown may report after Close.
	if j.closed {
		logger.Debugf("Session journal closed; dropping entry for %s", op.session.ID)
		return
	}
	select {
	case j.ops <- op:
	default:
		logger.Warnf("Session journal queue full; dropping entry for %s", op.session.ID)
	}
}

// SessionOpened implements relay.Observer.
func (j *Journal) SessionOpened(s relay.Session) {
	j.enqueue(journalOp{open: true, session: s})
}

// SessionClosed implements relay.Observer.
func (j *Journal) SessionClosed(s relay.Session, reason relay.CloseReason, cancelled int) {
	j.enqueue(journalOp{session: s, reason: reason, cancelled: cancelled, closedAt: j.now()})
}

// ExecuteFinished implements relay.Observer. Executions are not journaled.
func (j *Journal) ExecuteFinished(string, relay.Kind, time.Duration) {}

func (j *Journal) run() {
	defer j.wg.Done()
	for op := range j.ops {
		if err := j.apply(op); err != nil {
			logger.Warnf("Session journal write failed (session %s): %v", op.session.ID, err)
		}
	}
}

func (j *Journal) apply(op journalOp) error {
	s := op.session
	if op.open {
		_, err := j.db.Exec(`
			INSERT INTO relay_sessions (session_id, principal_id, transport, connected_at)
			VALUES (?, ?, ?, ?)`,
			s.ID, s.PrincipalID, s.Transport, s.ConnectedAt.UnixMilli())
		return err
	}

	_, err := j.db.Exec(`
		UPDATE relay_sessions
		SET closed_at = ?, request_count = ?, cancelled_count = ?, close_reason = ?
		WHERE session_id = ? AND closed_at IS NULL`,
		op.closedAt.UnixMilli(), s.RequestCount, op.cancelled, string(op.reason), s.ID)
	return err
}

// Close flushes queued entries and stops the writer. It does not close db.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.ops)
	}
	j.mu.Unlock()
	j.wg.Wait()
}

// Recent returns the most recently opened sessions, newest first. An empty
// principalID returns every principal.
func (j *Journal) Recent(ctx context.Context, principalID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT session_id, principal_id, transport, connected_at, closed_at,
			request_count, cancelled_count, close_reason
		FROM relay_sessions`
	args := []any{}
	if principalID != "" {
		query += " WHERE principal_id = ?"
		args = append(args, principalID)
	}
	query += " ORDER BY connected_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var (
			rec         SessionRecord
			connectedAt int64
			closedAt    sql.NullInt64
			reason      sql.NullString
		)
		if err := rows.Scan(&rec.SessionID, &rec.PrincipalID, &rec.Transport, &connectedAt, &closedAt,
			&rec.RequestCount, &rec.CancelledCount, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.ConnectedAt = time.UnixMilli(connectedAt)
		if closedAt.Valid {
			t := time.UnixMilli(closedAt.Int64)
			rec.ClosedAt = &t
		}
		rec.CloseReason = reason.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
