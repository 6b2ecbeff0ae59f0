package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFileJournal(t *testing.T, dir string, policy SyncPolicy) *FileJournal {
	t.Helper()
	j, err := OpenFile(FileOptions{Dir: dir, SyncPolicy: policy})
	require.NoError(t, err)
	return j
}

// segmentPaths returns the journal's segment files sorted by name.
func segmentPaths(t *testing.T, dir string) []string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(dir, "*"+segmentSuffix))
	require.NoError(t, err)
	return paths
}

func TestFileJournal_ReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j := openFileJournal(t, dir, SyncAlways)
	for i := 0; i < 4; i++ {
		_, err := j.Append(ctx, []byte(fmt.Sprintf("entry-%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	j2 := openFileJournal(t, dir, SyncAlways)
	defer j2.Close()
	assert.Equal(t, uint64(4), j2.LatestSeq())

	seq, err := j2.Append(ctx, []byte("after reopen"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq, "numbering continues with no reuse")
}

func TestFileJournal_CheckpointThenReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j := openFileJournal(t, dir, SyncBuffered)
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, []byte("x"))
		require.NoError(t, err)
	}

	seq, err := j.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, uint64(3), j.DurableSeq())
	require.NoError(t, j.Close())

	j2 := openFileJournal(t, dir, SyncBuffered)
	defer j2.Close()
	assert.Equal(t, uint64(3), j2.LatestSeq(), "checkpoint+restart leaves latest sequence unchanged")

	next, err := j2.Append(ctx, []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next, "next append continues from checkpoint+1")
}

func TestFileJournal_TornTailTruncatedOnOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j := openFileJournal(t, dir, SyncAlways)
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, []byte(fmt.Sprintf("entry-%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	// Simulate a crash mid-write: cut the final frame in half.
	paths := segmentPaths(t, dir)
	require.Len(t, paths, 1)
	info, err := os.Stat(paths[0])
	require.NoError(t, err)
	require.NoError(t, os.Truncate(paths[0], info.Size()-5))

	j2 := openFileJournal(t, dir, SyncAlways)
	defer j2.Close()
	assert.Equal(t, uint64(2), j2.LatestSeq(), "torn final entry dropped")

	var seqs []uint64
	count, err := j2.Replay(ctx, 1, func(seq uint64, _ []byte) error {
		seqs = append(seqs, seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []uint64{1, 2}, seqs)

	// The truncated sequence is reassigned to the next append: seq 3 was
	// never acknowledged as durable, so reuse is correct here.
	seq, err := j2.Append(ctx, []byte("fresh"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestFileJournal_BatchIsAtomicAcrossCrash(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j := openFileJournal(t, dir, SyncAlways)
	_, err := j.Append(ctx, []byte("single"))
	require.NoError(t, err)

	seqs, err := j.AppendBatch(ctx, [][]byte{[]byte("b1"), []byte("b2"), []byte("b3")})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3, 4}, seqs)
	require.NoError(t, j.Close())

	// Cut into the middle of the batch frame: the whole batch must vanish.
	paths := segmentPaths(t, dir)
	require.Len(t, paths, 1)
	info, err := os.Stat(paths[0])
	require.NoError(t, err)
	require.NoError(t, os.Truncate(paths[0], info.Size()-7))

	j2 := openFileJournal(t, dir, SyncAlways)
	defer j2.Close()
	assert.Equal(t, uint64(1), j2.LatestSeq(), "partial batch must not survive recovery")

	count, err := j2.Replay(ctx, 1, func(uint64, []byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFileJournal_SegmentRolling(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j, err := OpenFile(FileOptions{Dir: dir, SyncPolicy: SyncAlways, SegmentMaxBytes: 128})
	require.NoError(t, err)

	const total = 40
	for i := 1; i <= total; i++ {
		_, err := j.Append(ctx, []byte(fmt.Sprintf("payload-%03d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	paths := segmentPaths(t, dir)
	require.Greater(t, len(paths), 1, "small segment cap must roll multiple files")

	// Reopen and replay everything across segment boundaries.
	j2, err := OpenFile(FileOptions{Dir: dir, SyncPolicy: SyncAlways, SegmentMaxBytes: 128})
	require.NoError(t, err)
	defer j2.Close()
	assert.Equal(t, uint64(total), j2.LatestSeq())

	var seqs []uint64
	count, err := j2.Replay(ctx, 1, func(seq uint64, _ []byte) error {
		seqs = append(seqs, seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, total, count)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq, "replay order must match append order")
	}

	// Replay from a mid-log offset must skip whole leading segments.
	var fromSeqs []uint64
	count, err = j2.Replay(ctx, 25, func(seq uint64, _ []byte) error {
		fromSeqs = append(fromSeqs, seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 16, count)
	assert.Equal(t, uint64(25), fromSeqs[0])
	assert.Equal(t, uint64(total), fromSeqs[len(fromSeqs)-1])
}

// tamperEntryPayload flips one payload byte inside the first frame of the
// segment and re-stamps the frame CRC, leaving only the per-entry checksum
// stale. This models bit rot that a frame-level scan alone would miss.
func tamperEntryPayload(t *testing.T, path string) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), frameHeaderSize+16)

	bodyLen := binary.BigEndian.Uint32(data[0:4])
	body := data[frameHeaderSize : frameHeaderSize+int(bodyLen)]

	// body = count | seq(8) | payloadLen(4) | payload | entryCRC(4)
	payloadLen := binary.BigEndian.Uint32(body[12:16])
	require.Greater(t, payloadLen, uint32(0))
	body[16] ^= 0xFF

	binary.BigEndian.PutUint32(data[4:8], crc32.Checksum(body, castagnoli))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestFileJournal_VerifyDetectsTamperedEntry(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j := openFileJournal(t, dir, SyncAlways)
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, []byte(fmt.Sprintf("entry-%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	paths := segmentPaths(t, dir)
	require.Len(t, paths, 1)
	tamperEntryPayload(t, paths[0])

	j2 := openFileJournal(t, dir, SyncAlways)
	defer j2.Close()

	report, err := j2.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Verified)
	assert.Equal(t, 1, report.Mismatched)
	assert.Equal(t, []uint64{1}, report.MismatchedSeqs)
}

func TestFileJournal_BufferedReplaySeesUnflushedEntries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	j := openFileJournal(t, dir, SyncBuffered)
	defer j.Close()

	for i := 0; i < 5; i++ {
		_, err := j.Append(ctx, []byte("x"))
		require.NoError(t, err)
	}

	count, err := j.Replay(ctx, 1, func(uint64, []byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 5, count, "replay must observe appends not yet checkpointed")
}

func TestFileJournal_RequiresDir(t *testing.T) {
	_, err := OpenFile(FileOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dir is required")
}

func TestFrame_RoundTrip(t *testing.T) {
	payloads := [][]byte{[]byte("alpha"), []byte(""), []byte("gamma-gamma")}
	frame := encodeFrame(42, payloads)

	entries, next, err := readFrame(bytes.NewReader(frame), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(frame)), next)
	require.Len(t, entries, 3)

	for i, e := range entries {
		assert.Equal(t, uint64(42+i), e.Seq)
		assert.Equal(t, payloads[i], e.Payload)
		assert.Equal(t, entryChecksum(e.Seq, e.Payload), e.Checksum)
	}
}

func TestFrame_TornHeaderAndBody(t *testing.T) {
	frame := encodeFrame(1, [][]byte{[]byte("payload")})

	// Torn header.
	_, _, err := readFrame(bytes.NewReader(frame[:4]), 0)
	var torn *errTornFrame
	require.ErrorAs(t, err, &torn)

	// Torn body.
	_, _, err = readFrame(bytes.NewReader(frame[:len(frame)-2]), 0)
	require.ErrorAs(t, err, &torn)

	// Flipped body byte breaks the frame CRC.
	bad := append([]byte(nil), frame...)
	bad[len(bad)-1] ^= 0x01
	_, _, err = readFrame(bytes.NewReader(bad), 0)
	require.ErrorAs(t, err, &torn)
}

