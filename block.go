package lsmkv

import (
	"bytes"

	"github.com/nohashbrownsdb/lsmkv/page"
	"github.com/nohashbrownsdb/lsmkv/record"
)

// blockBuilder packs entries into one data page's payload. Its wire format
// is a plain sequence of record.Encode bodies — the same encoding the WAL
// uses for its record body, with no length prefix or checksum of its own
// since the surrounding page already checksums the whole payload.
//
// A block never splits the versions of one key across two pages: Fits
// reports back pressure only between key groups, never in the middle of
// one, so a reader never has to stitch GetAll results across blocks.
type blockBuilder struct {
	maxPayload int
	buf        bytes.Buffer
	lastKey    []byte
	entries    int
}

func newBlockBuilder(maxPayload int) *blockBuilder {
	return &blockBuilder{maxPayload: maxPayload}
}

// Fits reports whether e can be appended to the block currently being
// built without exceeding maxPayload, unless e continues the same key
// group already in progress (which is always accepted).
func (b *blockBuilder) Fits(e record.Entry) bool {
	if b.entries == 0 {
		return true
	}
	if bytes.Equal(b.lastKey, e.Key) {
		return true
	}
	return b.buf.Len()+record.EncodedLen(e) <= b.maxPayload
}

func (b *blockBuilder) Append(e record.Entry) {
	var scratch [64]byte
	enc := record.Encode(scratch[:0], e)
	b.buf.Write(enc)
	b.lastKey = append(b.lastKey[:0], e.Key...)
	b.entries++
}

func (b *blockBuilder) Len() int { return b.entries }

func (b *blockBuilder) Reset() {
	b.buf.Reset()
	b.lastKey = b.lastKey[:0]
	b.entries = 0
}

// decodeBlock parses a data page's payload back into its entries, in the
// same order they were appended.
func decodeBlock(payload []byte) ([]record.Entry, error) {
	var entries []record.Entry
	for len(payload) > 0 {
		e, n, err := record.Decode(payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		payload = payload[n:]
	}
	return entries, nil
}

// blockKind pins the page kind used for data pages, distinguishing them
// from index and footer pages of the same file.
const blockKind = page.KindData
