package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Segment file format.
//
// A segment is a sequence of frames. Each frame holds one or more entries
// and carries a frame-level CRC over its whole body: a batch append is one
// frame, so recovery either replays the entire batch or drops it whole.
// Each entry additionally carries its own CRC for per-record tamper
// detection during VerifyIntegrity.
//
//	frame := u32 bodyLen | u32 crc32c(body) | body
//	body  := u32 count | count * entry
//	entry := u64 seq | u32 payloadLen | payload | u32 crc32c(seq, payload)
//
// All integers are big-endian.

// frameHeaderSize is the fixed prefix of every frame.
const frameHeaderSize = 8

// maxFrameBody caps a single frame at 64 MiB. A frame larger than this is
// treated as corruption rather than an allocation request.
const maxFrameBody = 64 << 20

// frameEntry is one decoded log entry.
type frameEntry struct {
	Seq      uint64
	Payload  []byte
	Checksum uint32
}

// encodeFrame serializes entries starting at firstSeq into one frame.
func encodeFrame(firstSeq uint64, payloads [][]byte) []byte {
	bodyLen := 4
	for _, p := range payloads {
		bodyLen += 8 + 4 + len(p) + 4
	}

	buf := make([]byte, frameHeaderSize+bodyLen)
	body := buf[frameHeaderSize:]

	binary.BigEndian.PutUint32(body[0:4], uint32(len(payloads)))
	off := 4
	seq := firstSeq
	for _, p := range payloads {
		binary.BigEndian.PutUint64(body[off:off+8], seq)
		binary.BigEndian.PutUint32(body[off+8:off+12], uint32(len(p)))
		copy(body[off+12:], p)
		binary.BigEndian.PutUint32(body[off+12+len(p):off+16+len(p)], entryChecksum(seq, p))
		off += 12 + len(p) + 4
		seq++
	}

	binary.BigEndian.PutUint32(buf[0:4], uint32(bodyLen))
	binary.BigEndian.PutUint32(buf[4:8], crc32.Checksum(body, castagnoli))
	return buf
}

// errTornFrame marks an incomplete or checksum-failed frame at the end of a
// segment. Recovery truncates the segment at the frame boundary.
type errTornFrame struct {
	offset int64
	reason string
}

func (e *errTornFrame) Error() string {
	return fmt.Sprintf("torn frame at offset %d: %s", e.offset, e.reason)
}

// readFrame decodes the next frame from r at the given offset.
//
// Returns io.EOF at a clean end of segment, *errTornFrame when the frame is
// truncated or its body fails the frame CRC, and the decoded entries
// otherwise. Per-entry checksums are returned as stored, NOT validated
// here; VerifyIntegrity owns that comparison.
func readFrame(r io.Reader, offset int64) ([]frameEntry, int64, error) {
	var header [frameHeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err == io.EOF {
		return nil, offset, io.EOF
	}
	if err != nil {
		return nil, offset, &errTornFrame{offset: offset, reason: fmt.Sprintf("short header (%d bytes)", n)}
	}

	bodyLen := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])
	if bodyLen < 4 || bodyLen > maxFrameBody {
		return nil, offset, &errTornFrame{offset: offset, reason: fmt.Sprintf("implausible body length %d", bodyLen)}
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, offset, &errTornFrame{offset: offset, reason: "short body"}
	}
	if crc32.Checksum(body, castagnoli) != wantCRC {
		return nil, offset, &errTornFrame{offset: offset, reason: "frame checksum mismatch"}
	}

	count := binary.BigEndian.Uint32(body[0:4])
	entries := make([]frameEntry, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+12 > len(body) {
			return nil, offset, &errTornFrame{offset: offset, reason: "entry header past body end"}
		}
		seq := binary.BigEndian.Uint64(body[off : off+8])
		plen := int(binary.BigEndian.Uint32(body[off+8 : off+12]))
		if off+12+plen+4 > len(body) {
			return nil, offset, &errTornFrame{offset: offset, reason: "entry payload past body end"}
		}
		payload := make([]byte, plen)
		copy(payload, body[off+12:off+12+plen])
		sum := binary.BigEndian.Uint32(body[off+12+plen : off+16+plen])
		entries = append(entries, frameEntry{Seq: seq, Payload: payload, Checksum: sum})
		off += 16 + plen
	}

	next := offset + int64(frameHeaderSize) + int64(bodyLen)
	return entries, next, nil
}
