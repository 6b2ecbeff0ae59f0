package event

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Domain prefix for integrity hashing.
// Version suffix enables future algorithm migration.
const domainEvent = "weft/event/v1"

// integrityHash computes the domain-separated SHA-256 digest over every
// field of an event except the hash itself.
//
// Format: SHA256(domain + 0x00 + body), where body is a length-prefixed
// concatenation of each field. The null byte separator prevents domain/data
// boundary ambiguity, and length prefixes prevent field-boundary ambiguity
// (so {"ab","c"} and {"a","bc"} never collide).
//
// Any single-bit change to any field changes the digest.
func integrityHash(ev *Event) string {
	h := sha256.New()
	h.Write([]byte(domainEvent))
	h.Write([]byte{0x00})

	writeField(h, []byte(ev.ID))

	var wall [8]byte
	binary.BigEndian.PutUint64(wall[:], uint64(ev.Timestamp.WallMS))
	writeField(h, wall[:])
	var logical [4]byte
	binary.BigEndian.PutUint32(logical[:], ev.Timestamp.Logical)
	writeField(h, logical[:])
	writeField(h, []byte(ev.Timestamp.Node))

	writeField(h, []byte(ev.Origin))
	writeField(h, []byte(ev.Category))
	writeField(h, []byte(ev.Payload.Kind))
	writeField(h, ev.Payload.Data)

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(ev.ParentIDs)))
	writeField(h, count[:])
	for _, parent := range ev.ParentIDs {
		writeField(h, []byte(parent))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes a length-prefixed field into the running hash.
func writeField(h hash.Hash, data []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	h.Write(n[:])
	h.Write(data)
}
