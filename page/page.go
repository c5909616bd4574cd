// Package page implements the fixed-size disk frame that every other
// on-disk structure (SSTable blocks, the index, the footer) is built from.
package page

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Kind tags what a page's payload holds. Readers use it to reject a page
// read for the wrong purpose rather than trust offsets alone.
type Kind uint8

const (
	KindData Kind = iota + 1
	KindIndex
	KindFilter
	KindFooter
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindIndex:
		return "index"
	case KindFilter:
		return "filter"
	case KindFooter:
		return "footer"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// headerLen is id(8) + kind(1) + payload length(4) + checksum(4).
const headerLen = 17

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Page is one fixed-size frame: a small header followed by payload bytes
// padded with zeroes out to Size. Size is fixed per database.
type Page struct {
	ID      uint64
	Kind    Kind
	Payload []byte
}

// Encode serializes the page into a Size-length buffer, computing the
// checksum over header-minus-checksum plus payload.
func (p *Page) Encode(size int) ([]byte, error) {
	if headerLen+len(p.Payload) > size {
		return nil, fmt.Errorf("page: payload of %d bytes overflows page size %d", len(p.Payload), size)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], p.ID)
	buf[8] = byte(p.Kind)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(p.Payload)))
	copy(buf[headerLen:], p.Payload)

	sum := crc32.Checksum(buf[:9], castagnoli)
	sum = crc32.Update(sum, castagnoli, buf[13:17])
	sum = crc32.Update(sum, castagnoli, buf[headerLen:headerLen+len(p.Payload)])
	binary.LittleEndian.PutUint32(buf[13:17], sum)
	return buf, nil
}

// CorruptionError is returned by Decode when a page's checksum does not
// match its bytes, or the page's declared payload length overruns the
// frame. It always carries enough to locate the bad page on disk.
type CorruptionError struct {
	PageID uint64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("page %d: %s", e.PageID, e.Reason)
}

// Decode parses and verifies a Size-length buffer previously produced by
// Encode. It never returns a page whose checksum did not verify.
func Decode(buf []byte) (*Page, error) {
	if len(buf) < headerLen {
		return nil, &CorruptionError{Reason: "short page frame"}
	}

	id := binary.LittleEndian.Uint64(buf[0:8])
	kind := Kind(buf[8])
	payloadLen := binary.LittleEndian.Uint32(buf[9:13])
	wantSum := binary.LittleEndian.Uint32(buf[13:17])

	if headerLen+int(payloadLen) > len(buf) {
		return nil, &CorruptionError{PageID: id, Reason: "payload length overruns frame"}
	}

	zero := make([]byte, 4)
	sum := crc32.Checksum(buf[:9], castagnoli)
	sum = crc32.Update(sum, castagnoli, zero)
	sum = crc32.Update(sum, castagnoli, buf[headerLen:headerLen+int(payloadLen)])
	if sum != wantSum {
		return nil, &CorruptionError{PageID: id, Reason: "checksum mismatch"}
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[headerLen:headerLen+int(payloadLen)])
	return &Page{ID: id, Kind: kind, Payload: payload}, nil
}

// MaxPayload returns the largest payload a page of the given frame size can
// hold.
func MaxPayload(size int) int {
	return size - headerLen
}
