package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"kvdb/pkg/types"
)

const (
	// headerSize covers payload length (4 bytes) and payload checksum (4 bytes).
	headerSize = 8

	MaxKeySize   = 64 << 10
	MaxValueSize = 16 << 20

	maxPayloadSize = 1 + 4 + MaxKeySize + 4 + MaxValueSize
)

var (
	errChecksum     = errors.New("checksum mismatch")
	errBadLength    = errors.New("row length out of range")
	errMalformedRow = errors.New("malformed row payload")
)

// Row is one persisted record. Rows are never rewritten once appended.
type Row struct {
	Op    types.Op
	Key   []byte
	Value []byte
}

// Tombstone reports whether the row removes its key.
func (r Row) Tombstone() bool { return r.Op.Tombstone() }

// Size is the number of bytes the row occupies in the file.
func (r Row) Size() int64 {
	return int64(headerSize + payloadSize(r))
}

func payloadSize(r Row) int {
	return 1 + 4 + len(r.Key) + 4 + len(r.Value)
}

// encodeRow lays the row out as
// [u32 payload len][u32 crc32(payload)][u8 op][u32 key len][key][u32 value len][value].
func encodeRow(r Row) ([]byte, error) {
	if !r.Op.Valid() {
		return nil, fmt.Errorf("unknown op %d", r.Op)
	}
	if len(r.Key) == 0 || len(r.Key) > MaxKeySize {
		return nil, fmt.Errorf("key size %d: %w", len(r.Key), errBadLength)
	}
	if len(r.Value) > MaxValueSize {
		return nil, fmt.Errorf("value size %d: %w", len(r.Value), errBadLength)
	}

	n := payloadSize(r)
	buf := make([]byte, headerSize+n)
	payload := buf[headerSize:]

	payload[0] = byte(r.Op)
	pos := 1
	binary.LittleEndian.PutUint32(payload[pos:], uint32(len(r.Key)))
	pos += 4
	pos += copy(payload[pos:], r.Key)
	binary.LittleEndian.PutUint32(payload[pos:], uint32(len(r.Value)))
	pos += 4
	copy(payload[pos:], r.Value)

	binary.LittleEndian.PutUint32(buf[0:], uint32(n))
	binary.LittleEndian.PutUint32(buf[4:], crc32.ChecksumIEEE(payload))
	return buf, nil
}

// parseHeader returns payload length and checksum.
func parseHeader(h []byte) (int, uint32, error) {
	n := binary.LittleEndian.Uint32(h[0:])
	if n < 9 || n > maxPayloadSize {
		return 0, 0, fmt.Errorf("payload length %d: %w", n, errBadLength)
	}
	return int(n), binary.LittleEndian.Uint32(h[4:]), nil
}

func decodePayload(payload []byte, sum uint32) (Row, error) {
	if crc32.ChecksumIEEE(payload) != sum {
		return Row{}, errChecksum
	}

	var r Row
	r.Op = types.Op(payload[0])
	if !r.Op.Valid() {
		return Row{}, fmt.Errorf("op %d: %w", payload[0], errMalformedRow)
	}
	pos := 1

	keyLen := int(binary.LittleEndian.Uint32(payload[pos:]))
	pos += 4
	if keyLen == 0 || pos+keyLen+4 > len(payload) {
		return Row{}, fmt.Errorf("key length %d: %w", keyLen, errMalformedRow)
	}
	r.Key = append([]byte(nil), payload[pos:pos+keyLen]...)
	pos += keyLen

	valLen := int(binary.LittleEndian.Uint32(payload[pos:]))
	pos += 4
	if pos+valLen != len(payload) {
		return Row{}, fmt.Errorf("value length %d: %w", valLen, errMalformedRow)
	}
	if valLen > 0 {
		r.Value = append([]byte(nil), payload[pos:]...)
	}
	return r, nil
}
