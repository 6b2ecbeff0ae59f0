// Package journal provides the append-only, crash-recoverable event log.
//
// The journal is the single source of truth for recovery: nothing in the
// fabric is considered committed until it is appended here. Three backends
// implement one contract:
//
//   - file: a directory of append-only segment files, crash-durable
//   - memory: slice-backed, non-durable, for tests
//   - sqlite: WAL-mode SQLite database
//
// Sequence numbers are strictly increasing from 1, assigned exactly once,
// and never reused even after failed writes. A batch append is a single
// durability unit: after a crash-and-recover cycle either the whole batch
// is visible or none of it is.
package journal

import (
	"context"
	"errors"
	"hash/crc32"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal is closed")

// SyncPolicy controls when appends are forced to stable storage.
type SyncPolicy int

const (
	// SyncAlways forces durability on every append. Slowest, safest.
	SyncAlways SyncPolicy = iota
	// SyncBuffered leaves durability to the OS until Checkpoint is called.
	// An un-checkpointed crash may lose recent appends; it never corrupts
	// or reorders what survives.
	SyncBuffered
)

// String returns the policy name used in configuration files.
func (p SyncPolicy) String() string {
	switch p {
	case SyncAlways:
		return "always"
	case SyncBuffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// ParseSyncPolicy converts a configuration string to a SyncPolicy.
func ParseSyncPolicy(s string) (SyncPolicy, error) {
	switch s {
	case "always":
		return SyncAlways, nil
	case "buffered":
		return SyncBuffered, nil
	default:
		return 0, errors.New("sync policy must be \"always\" or \"buffered\"")
	}
}

// ReplayFn receives one entry during replay. Returning an error stops the
// replay and propagates to the caller.
type ReplayFn func(seq uint64, payload []byte) error

// VerifyReport summarizes an integrity pass over the whole journal.
// Mismatches are reported, never repaired; remediation is an explicit
// operational decision.
type VerifyReport struct {
	Total          int      `json:"total"`
	Verified       int      `json:"verified"`
	Mismatched     int      `json:"mismatched"`
	MismatchedSeqs []uint64 `json:"mismatched_seqs,omitempty"`
}

// Journal is the contract every backend implements.
//
// All methods are safe for concurrent use. Sequence allocation and the
// write itself share one critical section so a failed write can roll the
// counter back; flushing under SyncBuffered happens outside that section
// wherever the backend allows.
type Journal interface {
	// Append durably records one payload and returns its sequence number.
	// On failure the sequence counter does not advance.
	Append(ctx context.Context, payload []byte) (uint64, error)

	// AppendBatch records all payloads as one durability unit, assigning a
	// contiguous block of sequence numbers. Either the whole batch survives
	// a crash or none of it does.
	AppendBatch(ctx context.Context, payloads [][]byte) ([]uint64, error)

	// Replay invokes fn for every entry with seq >= fromSeq, in order,
	// and returns the number of entries processed. fromSeq may be any
	// previously checkpointed sequence, not only 1.
	Replay(ctx context.Context, fromSeq uint64, fn ReplayFn) (int, error)

	// VerifyIntegrity recomputes every entry checksum and reports
	// mismatches without repairing them.
	VerifyIntegrity(ctx context.Context) (VerifyReport, error)

	// Checkpoint forces durability of pending writes and returns the
	// highest durable sequence.
	Checkpoint(ctx context.Context) (uint64, error)

	// LatestSeq returns the highest assigned sequence (0 when empty).
	LatestSeq() uint64

	// Close releases backend resources. The journal is unusable afterwards.
	Close() error
}

// castagnoli is the CRC-32C polynomial table shared by all backends so
// that checksums stay comparable across storage migrations.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// entryChecksum computes the per-entry CRC-32C over seq and payload.
func entryChecksum(seq uint64, payload []byte) uint32 {
	var buf [8]byte
	buf[0] = byte(seq >> 56)
	buf[1] = byte(seq >> 48)
	buf[2] = byte(seq >> 40)
	buf[3] = byte(seq >> 32)
	buf[4] = byte(seq >> 24)
	buf[5] = byte(seq >> 16)
	buf[6] = byte(seq >> 8)
	buf[7] = byte(seq)
	crc := crc32.Update(0, castagnoli, buf[:])
	return crc32.Update(crc, castagnoli, payload)
}
