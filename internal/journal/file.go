package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DefaultSegmentMaxBytes rolls segments at 16 MiB.
const DefaultSegmentMaxBytes = 16 << 20

// segmentSuffix is the extension of segment files under the journal dir.
const segmentSuffix = ".seg"

// FileOptions configures a file-backed journal.
type FileOptions struct {
	// Dir is the storage directory. Created if absent.
	Dir string
	// SyncPolicy controls fsync behavior. Default SyncAlways.
	SyncPolicy SyncPolicy
	// SegmentMaxBytes rolls the active segment when it grows past this
	// size. Default DefaultSegmentMaxBytes.
	SegmentMaxBytes int64
}

// FileJournal is the crash-durable, segment-file backend.
//
// Layout: Dir contains zero-padded "<firstSeq>.seg" files, each a sequence
// of frames (see frame.go). Opening scans every segment; a torn frame at
// the tail of the final segment is truncated away (standard WAL recovery),
// while an invalid frame anywhere else is reported as corruption.
type FileJournal struct {
	dir    string
	policy SyncPolicy
	segMax int64

	mu         sync.Mutex
	active     *os.File
	activeSize int64
	nextSeq    uint64
	durableSeq uint64
	closed     bool
}

// OpenFile opens or creates a file-backed journal in opts.Dir.
func OpenFile(opts FileOptions) (*FileJournal, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("open file journal: dir is required")
	}
	if opts.SegmentMaxBytes <= 0 {
		opts.SegmentMaxBytes = DefaultSegmentMaxBytes
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("open file journal: %w", err)
	}

	j := &FileJournal{
		dir:    opts.Dir,
		policy: opts.SyncPolicy,
		segMax: opts.SegmentMaxBytes,
	}

	segments, err := j.listSegments()
	if err != nil {
		return nil, fmt.Errorf("open file journal: %w", err)
	}

	if len(segments) == 0 {
		if err := j.openActive(1); err != nil {
			return nil, fmt.Errorf("open file journal: %w", err)
		}
		j.nextSeq = 1
		return j, nil
	}

	// Scan every segment to recover the sequence position; repair the tail
	// of the final segment if a crash left a torn frame there.
	var lastSeq uint64
	for i, seg := range segments {
		final := i == len(segments)-1
		segLast, validSize, err := scanSegment(seg.path)
		if err != nil {
			var torn *errTornFrame
			if errors.As(err, &torn) && final {
				slog.Warn("truncating torn journal tail",
					"segment", seg.path,
					"offset", torn.offset,
					"reason", torn.reason,
				)
				if err := os.Truncate(seg.path, torn.offset); err != nil {
					return nil, fmt.Errorf("truncate torn tail of %s: %w", seg.path, err)
				}
			} else {
				return nil, fmt.Errorf("segment %s is corrupt: %w", seg.path, err)
			}
		}
		if segLast > lastSeq {
			lastSeq = segLast
		}
		if final {
			j.activeSize = validSize
		}
	}

	last := segments[len(segments)-1]
	f, err := os.OpenFile(last.path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open active segment: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek active segment: %w", err)
	}
	j.active = f
	j.nextSeq = lastSeq + 1
	j.durableSeq = lastSeq

	return j, nil
}

// Append implements Journal.
func (j *FileJournal) Append(ctx context.Context, payload []byte) (uint64, error) {
	seqs, err := j.appendFrame(ctx, [][]byte{payload})
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

// AppendBatch implements Journal. The whole batch is one frame, hence one
// durability unit.
func (j *FileJournal) AppendBatch(ctx context.Context, payloads [][]byte) ([]uint64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	return j.appendFrame(ctx, payloads)
}

// appendFrame allocates a contiguous sequence block and writes one frame.
// On any failure the sequence counter is untouched and the partial write is
// truncated away, so retries get a fresh, correct sequence.
func (j *FileJournal) appendFrame(ctx context.Context, payloads [][]byte) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	if j.activeSize >= j.segMax {
		if err := j.rollSegment(); err != nil {
			return nil, fmt.Errorf("roll segment: %w", err)
		}
	}

	frame := encodeFrame(j.nextSeq, payloads)
	if _, err := j.active.Write(frame); err != nil {
		j.truncateActive()
		return nil, fmt.Errorf("append frame: %w", err)
	}

	if j.policy == SyncAlways {
		if err := j.active.Sync(); err != nil {
			// Durability is not established; roll back as if never written.
			j.truncateActive()
			return nil, fmt.Errorf("sync frame: %w", err)
		}
	}

	seqs := make([]uint64, len(payloads))
	for i := range seqs {
		seqs[i] = j.nextSeq + uint64(i)
	}
	j.activeSize += int64(len(frame))
	j.nextSeq += uint64(len(payloads))
	if j.policy == SyncAlways {
		j.durableSeq = j.nextSeq - 1
	}
	return seqs, nil
}

// truncateActive restores the active segment to its last known-good size
// after a failed write. Best effort; a failure here leaves a torn frame
// that the next open will truncate.
func (j *FileJournal) truncateActive() {
	if err := j.active.Truncate(j.activeSize); err != nil {
		slog.Error("truncate after failed append", "error", err, "size", j.activeSize)
		return
	}
	if _, err := j.active.Seek(j.activeSize, io.SeekStart); err != nil {
		slog.Error("seek after failed append", "error", err, "size", j.activeSize)
	}
}

// rollSegment closes the active segment and starts a new one named after
// the next sequence number.
func (j *FileJournal) rollSegment() error {
	if err := j.active.Sync(); err != nil {
		return fmt.Errorf("sync before roll: %w", err)
	}
	if err := j.active.Close(); err != nil {
		return fmt.Errorf("close before roll: %w", err)
	}
	return j.openActive(j.nextSeq)
}

// openActive creates and syncs a fresh segment file for firstSeq.
func (j *FileJournal) openActive(firstSeq uint64) error {
	path := filepath.Join(j.dir, segmentName(firstSeq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", path, err)
	}

	// Persist the directory entry so the new segment survives a crash.
	if d, err := os.Open(j.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	j.active = f
	j.activeSize = 0
	return nil
}

// Replay implements Journal.
func (j *FileJournal) Replay(ctx context.Context, fromSeq uint64, fn ReplayFn) (int, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return 0, ErrClosed
	}
	// Flush buffered frames so the read-side sees everything assigned.
	if err := j.active.Sync(); err != nil {
		j.mu.Unlock()
		return 0, fmt.Errorf("replay: sync active segment: %w", err)
	}
	limit := j.nextSeq - 1
	segments, err := j.listSegments()
	j.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}

	count := 0
	for i, seg := range segments {
		// Skip segments that end before fromSeq: a segment's entries all
		// precede the next segment's first sequence.
		if i+1 < len(segments) && segments[i+1].firstSeq <= fromSeq {
			continue
		}
		err := walkSegment(seg.path, func(e frameEntry) error {
			if e.Seq < fromSeq || e.Seq > limit {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(e.Seq, e.Payload); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			var torn *errTornFrame
			if errors.As(err, &torn) && i == len(segments)-1 {
				break // un-flushed or torn tail; everything durable was replayed
			}
			return count, fmt.Errorf("replay segment %s: %w", seg.path, err)
		}
	}
	return count, nil
}

// VerifyIntegrity implements Journal. Every entry checksum is recomputed;
// mismatches are reported per sequence and never repaired.
func (j *FileJournal) VerifyIntegrity(ctx context.Context) (VerifyReport, error) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return VerifyReport{}, ErrClosed
	}
	if err := j.active.Sync(); err != nil {
		j.mu.Unlock()
		return VerifyReport{}, fmt.Errorf("verify: sync active segment: %w", err)
	}
	segments, err := j.listSegments()
	j.mu.Unlock()
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify: %w", err)
	}

	var report VerifyReport
	for i, seg := range segments {
		err := walkSegment(seg.path, func(e frameEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Total++
			if entryChecksum(e.Seq, e.Payload) == e.Checksum {
				report.Verified++
			} else {
				report.Mismatched++
				report.MismatchedSeqs = append(report.MismatchedSeqs, e.Seq)
			}
			return nil
		})
		if err != nil {
			var torn *errTornFrame
			if errors.As(err, &torn) && i == len(segments)-1 {
				break
			}
			return report, fmt.Errorf("verify segment %s: %w", seg.path, err)
		}
	}
	return report, nil
}

// Checkpoint implements Journal.
func (j *FileJournal) Checkpoint(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrClosed
	}
	if err := j.active.Sync(); err != nil {
		return 0, fmt.Errorf("checkpoint: %w", err)
	}
	j.durableSeq = j.nextSeq - 1
	return j.durableSeq, nil
}

// LatestSeq implements Journal.
func (j *FileJournal) LatestSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextSeq - 1
}

// DurableSeq returns the highest sequence known to have reached stable
// storage. Equals LatestSeq under SyncAlways; under SyncBuffered it trails
// until the next Checkpoint.
func (j *FileJournal) DurableSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.durableSeq
}

// Close implements Journal. Pending writes are flushed first.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.active.Sync(); err != nil {
		j.active.Close()
		return fmt.Errorf("close journal: sync: %w", err)
	}
	if err := j.active.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// segmentInfo pairs a segment path with the first sequence it contains.
type segmentInfo struct {
	path     string
	firstSeq uint64
}

// listSegments returns segment files sorted by first sequence.
func (j *FileJournal) listSegments() ([]segmentInfo, error) {
	names, err := filepath.Glob(filepath.Join(j.dir, "*"+segmentSuffix))
	if err != nil {
		return nil, err
	}

	segments := make([]segmentInfo, 0, len(names))
	for _, path := range names {
		base := strings.TrimSuffix(filepath.Base(path), segmentSuffix)
		first, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			// Foreign file in the journal directory; leave it alone.
			slog.Warn("ignoring non-segment file in journal dir", "path", path)
			continue
		}
		segments = append(segments, segmentInfo{path: path, firstSeq: first})
	}
	sort.Slice(segments, func(a, b int) bool { return segments[a].firstSeq < segments[b].firstSeq })
	return segments, nil
}

// segmentName formats the zero-padded file name for a first sequence.
func segmentName(firstSeq uint64) string {
	return fmt.Sprintf("%020d%s", firstSeq, segmentSuffix)
}

// scanSegment reads a whole segment, returning the last sequence it holds
// and the byte offset after the final valid frame.
func scanSegment(path string) (lastSeq uint64, validSize int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var offset int64
	for {
		entries, next, err := readFrame(f, offset)
		if err == io.EOF {
			return lastSeq, offset, nil
		}
		if err != nil {
			return lastSeq, offset, err
		}
		for _, e := range entries {
			if e.Seq > lastSeq {
				lastSeq = e.Seq
			}
		}
		offset = next
	}
}

// walkSegment invokes fn for every entry in the segment in stored order.
func walkSegment(path string, fn func(frameEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var offset int64
	for {
		entries, next, err := readFrame(f, offset)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
		}
		offset = next
	}
}
