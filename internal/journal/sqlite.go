package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteJournal is the SQLite-backed journal.
//
// The database runs in WAL mode so readers never block the single writer.
// A batch append is one transaction, which is the durability unit SQLite
// already guarantees, so batch atomicity falls out of the storage engine.
type SQLiteJournal struct {
	db *sql.DB

	mu      sync.Mutex
	nextSeq uint64
	closed  bool
}

// OpenSQLite creates or opens a SQLite-backed journal at the given path.
// Applies required pragmas and the schema automatically; safe to call on
// an existing database.
//
// policy maps to the synchronous pragma: SyncAlways uses FULL (fsync per
// commit), SyncBuffered uses NORMAL (fsync at WAL checkpoints).
func OpenSQLite(path string, policy SyncPolicy) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite journal: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	synchronous := "FULL"
	if policy == SyncBuffered {
		synchronous = "NORMAL"
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = " + synchronous,
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	var last uint64
	if err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM entries`).Scan(&last); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover last seq: %w", err)
	}

	return &SQLiteJournal{db: db, nextSeq: last + 1}, nil
}

// Append implements Journal.
func (j *SQLiteJournal) Append(ctx context.Context, payload []byte) (uint64, error) {
	seqs, err := j.AppendBatch(ctx, [][]byte{payload})
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

// AppendBatch implements Journal. All inserts share one transaction; a
// failure rolls both the transaction and the sequence counter back.
func (j *SQLiteJournal) AppendBatch(ctx context.Context, payloads [][]byte) ([]uint64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	seqs := make([]uint64, len(payloads))
	for i, p := range payloads {
		seq := j.nextSeq + uint64(i)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (seq, payload, checksum) VALUES (?, ?, ?)
		`, seq, p, int64(entryChecksum(seq, p))); err != nil {
			return nil, fmt.Errorf("append batch: insert seq %d: %w", seq, err)
		}
		seqs[i] = seq
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append batch: commit: %w", err)
	}

	j.nextSeq += uint64(len(payloads))
	return seqs, nil
}

// Replay implements Journal. Results ordered by seq ASC so replay is
// deterministic regardless of insert interleaving.
func (j *SQLiteJournal) Replay(ctx context.Context, fromSeq uint64, fn ReplayFn) (int, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}

	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, payload FROM entries WHERE seq >= ? ORDER BY seq ASC
	`, fromSeq)
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var seq uint64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return count, fmt.Errorf("replay: scan: %w", err)
		}
		if err := fn(seq, payload); err != nil {
			return count, fmt.Errorf("replay seq %d: %w", seq, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("replay: iterate: %w", err)
	}
	return count, nil
}

// VerifyIntegrity implements Journal.
func (j *SQLiteJournal) VerifyIntegrity(ctx context.Context) (VerifyReport, error) {
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return VerifyReport{}, ErrClosed
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, payload, checksum FROM entries ORDER BY seq ASC
	`)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify: %w", err)
	}
	defer rows.Close()

	var report VerifyReport
	for rows.Next() {
		var seq uint64
		var payload []byte
		var stored int64
		if err := rows.Scan(&seq, &payload, &stored); err != nil {
			return report, fmt.Errorf("verify: scan: %w", err)
		}
		report.Total++
		if entryChecksum(seq, payload) == uint32(stored) {
			report.Verified++
		} else {
			report.Mismatched++
			report.MismatchedSeqs = append(report.MismatchedSeqs, seq)
		}
	}
	if err := rows.Err(); err != nil {
		return report, fmt.Errorf("verify: iterate: %w", err)
	}
	return report, nil
}

// Checkpoint implements Journal. Forces the WAL into the main database
// file and returns the highest durable sequence.
func (j *SQLiteJournal) Checkpoint(ctx context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrClosed
	}
	if _, err := j.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return 0, fmt.Errorf("checkpoint: %w", err)
	}
	return j.nextSeq - 1, nil
}

// LatestSeq implements Journal.
func (j *SQLiteJournal) LatestSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextSeq - 1
}

// Close implements Journal.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close sqlite journal: %w", err)
	}
	return nil
}

// DB returns the underlying handle for direct queries. Use with caution;
// prefer Journal methods.
func (j *SQLiteJournal) DB() *sql.DB {
	return j.db
}
