package syncengine

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ChunkFetchState is the per-chunk status tracked by the resumption
// ledger across a sync attempt.
type ChunkFetchState string

const (
	ChunkPending  ChunkFetchState = "PENDING"
	ChunkFetched  ChunkFetchState = "FETCHED"
	ChunkVerified ChunkFetchState = "VERIFIED"
	ChunkFailed   ChunkFetchState = "FAILED"
)

// Ledger is a SQLite-backed record of in-flight and completed sync
// attempts and their per-chunk fetch/verify states, adapted from the
// teacher's transfer-session/bitmap persistence. PendingChunks reports
// an attempt's unverified chunks. Engine.Sync starts a new attempt on
// every call and does not read earlier attempts, so a cancelled or
// crashed sync is not resumed from the ledger.
type Ledger struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenLedger opens (creating if absent) the sync ledger at dbPath.
func OpenLedger(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("syncengine: open ledger: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sync_attempts (
			attempt_id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			dataset TEXT NOT NULL,
			remote_timestamp TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			outcome TEXT NOT NULL DEFAULT 'IN_PROGRESS'
		);

		CREATE TABLE IF NOT EXISTS chunk_fetch_state (
			attempt_id TEXT NOT NULL,
			chunk_hash TEXT NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (attempt_id, chunk_hash),
			FOREIGN KEY (attempt_id) REFERENCES sync_attempts(attempt_id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_chunk_state ON chunk_fetch_state(attempt_id, state);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("syncengine: init schema: %w", err)
	}
	return nil
}

// BeginAttempt records the start of attempt attemptID and seeds each
// of chunkHashes as Pending. Rows that already exist for attemptID are
// left as they are.
func (l *Ledger) BeginAttempt(attemptID, source, dataset, remoteTimestamp string, chunkHashes []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR IGNORE INTO sync_attempts (attempt_id, source, dataset, remote_timestamp, started_at, outcome)
		VALUES (?, ?, ?, ?, ?, 'IN_PROGRESS')`, attemptID, source, dataset, remoteTimestamp, time.Now())
	if err != nil {
		return fmt.Errorf("syncengine: begin attempt: %w", err)
	}

	now := time.Now()
	for _, h := range chunkHashes {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO chunk_fetch_state (attempt_id, chunk_hash, state, updated_at)
			VALUES (?, ?, ?, ?)`, attemptID, h, ChunkPending, now); err != nil {
			return fmt.Errorf("syncengine: seed chunk state: %w", err)
		}
	}
	return tx.Commit()
}

// PendingChunks returns the hex-encoded hashes not yet in the
// Verified state for attemptID — the resume set.
func (l *Ledger) PendingChunks(attemptID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.Query(`SELECT chunk_hash FROM chunk_fetch_state WHERE attempt_id = ? AND state != ?`, attemptID, ChunkVerified)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkChunkState records a chunk's fetch/verify outcome and bumps its
// attempt counter.
func (l *Ledger) MarkChunkState(attemptID, chunkHash string, state ChunkFetchState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`UPDATE chunk_fetch_state SET state = ?, attempts = attempts + 1, updated_at = ?
		WHERE attempt_id = ? AND chunk_hash = ?`, state, time.Now(), attemptID, chunkHash)
	return err
}

// ChunkAttempts returns how many fetch attempts have been recorded for
// a chunk within an attempt. Engine's retry budget is counted in its
// own loop, not read from here.
func (l *Ledger) ChunkAttempts(attemptID, chunkHash string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var n int
	err := l.db.QueryRow(`SELECT attempts FROM chunk_fetch_state WHERE attempt_id = ? AND chunk_hash = ?`, attemptID, chunkHash).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// FinishAttempt marks an attempt's terminal outcome ("COMMITTED",
// "FAILED", or "CANCELLED").
func (l *Ledger) FinishAttempt(attemptID, outcome string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`UPDATE sync_attempts SET outcome = ?, finished_at = ? WHERE attempt_id = ?`, outcome, time.Now(), attemptID)
	return err
}

// Close closes the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
