package journal

import (
	"context"
	"fmt"
	"sync"
)

// memEntry is one stored record in the in-memory backend.
type memEntry struct {
	seq      uint64
	payload  []byte
	checksum uint32
}

// MemoryJournal is the non-durable, slice-backed backend.
//
// It honors the full Journal contract (sequence discipline, batch
// atomicity, verify reporting) but loses everything on process exit, which
// is exactly what tests want.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []memEntry
	closed  bool
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *MemoryJournal {
	return &MemoryJournal{}
}

// Append implements Journal.
func (j *MemoryJournal) Append(ctx context.Context, payload []byte) (uint64, error) {
	seqs, err := j.AppendBatch(ctx, [][]byte{payload})
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

// AppendBatch implements Journal. The slice append is all-or-nothing by
// construction, so batch atomicity is trivial here.
func (j *MemoryJournal) AppendBatch(ctx context.Context, payloads [][]byte) ([]uint64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	firstSeq := uint64(len(j.entries)) + 1
	seqs := make([]uint64, len(payloads))
	for i, p := range payloads {
		seq := firstSeq + uint64(i)
		stored := make([]byte, len(p))
		copy(stored, p)
		j.entries = append(j.entries, memEntry{
			seq:      seq,
			payload:  stored,
			checksum: entryChecksum(seq, stored),
		})
		seqs[i] = seq
	}
	return seqs, nil
}

// Replay implements Journal.
func (j *MemoryJournal) Replay(ctx context.Context, fromSeq uint64, fn ReplayFn) (int, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}

	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return 0, ErrClosed
	}
	snapshot := j.entries
	j.mu.RUnlock()

	count := 0
	for _, e := range snapshot {
		if e.seq < fromSeq {
			continue
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := fn(e.seq, e.payload); err != nil {
			return count, fmt.Errorf("replay seq %d: %w", e.seq, err)
		}
		count++
	}
	return count, nil
}

// VerifyIntegrity implements Journal.
func (j *MemoryJournal) VerifyIntegrity(ctx context.Context) (VerifyReport, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return VerifyReport{}, ErrClosed
	}

	var report VerifyReport
	for _, e := range j.entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Total++
		if entryChecksum(e.seq, e.payload) == e.checksum {
			report.Verified++
		} else {
			report.Mismatched++
			report.MismatchedSeqs = append(report.MismatchedSeqs, e.seq)
		}
	}
	return report, nil
}

// Checkpoint implements Journal. Nothing to flush; returns the latest
// assigned sequence.
func (j *MemoryJournal) Checkpoint(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return 0, ErrClosed
	}
	return uint64(len(j.entries)), nil
}

// LatestSeq implements Journal.
func (j *MemoryJournal) LatestSeq() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return uint64(len(j.entries))
}

// Close implements Journal.
func (j *MemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

// TamperForTesting overwrites a stored payload WITHOUT updating its
// checksum, so VerifyIntegrity reports the entry. Not intended for
// production use.
func (j *MemoryJournal) TamperForTesting(seq uint64, payload []byte) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := range j.entries {
		if j.entries[i].seq == seq {
			j.entries[i].payload = payload
			return true
		}
	}
	return false
}
