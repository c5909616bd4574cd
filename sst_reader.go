package lsmkv

import (
	"encoding/binary"
	"fmt"
)

// footerMagic and the format version that follows it sit at the tail of
// every SSTable footer page, not the head: spec.md §4.5's layout guarantee
// is "the last 8 bytes of the footer payload are a magic constant and
// format version," so open() can only trust them once every preceding,
// variable-length field (the smallest/largest key) has already been
// consumed — trading an up-front reject-bad-file check for the bit-exact
// layout the spec requires.
var footerMagic = [4]byte{'L', 'S', 'S', 'T'}

const footerFormatVersion = 1

// footerTrailerLen is magic (4) + format version (4), the fixed-size
// trailer that always ends the footer payload.
const footerTrailerLen = 4 + 4

// footer is the fixed-format summary written as the last page of every
// SSTable: enough to locate the index, consult the whole-table bloom
// filter sidecar, and answer range questions without touching a data page.
type footer struct {
	PageSize          uint32
	IndexPageCount    uint32
	FirstIndexPageID  uint64
	FilterPageCount   uint32
	FirstFilterPageID uint64
	SmallestKey       []byte
	LargestKey        []byte
	MinSeqNum         uint64
	MaxSeqNum         uint64
	EntryCount        uint64
}

func encodeFooter(f footer) []byte {
	buf := make([]byte, 0, 4+4+8+4+8+4+len(f.SmallestKey)+4+len(f.LargestKey)+8+8+8+footerTrailerLen)

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], f.PageSize)
	buf = append(buf, scratch[:4]...)
	binary.LittleEndian.PutUint32(scratch[:4], f.IndexPageCount)
	buf = append(buf, scratch[:4]...)
	binary.LittleEndian.PutUint64(scratch[:8], f.FirstIndexPageID)
	buf = append(buf, scratch[:8]...)
	binary.LittleEndian.PutUint32(scratch[:4], f.FilterPageCount)
	buf = append(buf, scratch[:4]...)
	binary.LittleEndian.PutUint64(scratch[:8], f.FirstFilterPageID)
	buf = append(buf, scratch[:8]...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(f.SmallestKey)))
	buf = append(buf, scratch[:4]...)
	buf = append(buf, f.SmallestKey...)
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(f.LargestKey)))
	buf = append(buf, scratch[:4]...)
	buf = append(buf, f.LargestKey...)

	binary.LittleEndian.PutUint64(scratch[:8], f.MinSeqNum)
	buf = append(buf, scratch[:8]...)
	binary.LittleEndian.PutUint64(scratch[:8], f.MaxSeqNum)
	buf = append(buf, scratch[:8]...)
	binary.LittleEndian.PutUint64(scratch[:8], f.EntryCount)
	buf = append(buf, scratch[:8]...)

	// Trailer: magic then format version, always the payload's last
	// footerTrailerLen bytes.
	buf = append(buf, footerMagic[:]...)
	binary.LittleEndian.PutUint32(scratch[:4], footerFormatVersion)
	buf = append(buf, scratch[:4]...)
	return buf
}

func decodeFooter(payload []byte) (footer, error) {
	const fixedLen = 4 + 4 + 8 + 4 + 8 + 4 + 4 + 8 + 8 + 8 + footerTrailerLen
	if len(payload) < fixedLen {
		return footer{}, fmt.Errorf("sstable: footer payload too short")
	}

	off := 0
	var f footer
	f.PageSize = binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	f.IndexPageCount = binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	f.FirstIndexPageID = binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8
	f.FilterPageCount = binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	f.FirstFilterPageID = binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8

	smallestLen := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	if off+int(smallestLen) > len(payload) {
		return footer{}, fmt.Errorf("sstable: smallest key overruns footer")
	}
	f.SmallestKey = append([]byte(nil), payload[off:off+int(smallestLen)]...)
	off += int(smallestLen)

	if off+4 > len(payload) {
		return footer{}, fmt.Errorf("sstable: footer missing largest key length")
	}
	largestLen := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	if off+int(largestLen) > len(payload) {
		return footer{}, fmt.Errorf("sstable: largest key overruns footer")
	}
	f.LargestKey = append([]byte(nil), payload[off:off+int(largestLen)]...)
	off += int(largestLen)

	if off+24+footerTrailerLen > len(payload) {
		return footer{}, fmt.Errorf("sstable: footer missing sequence/count fields")
	}
	f.MinSeqNum = binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8
	f.MaxSeqNum = binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8
	f.EntryCount = binary.LittleEndian.Uint64(payload[off : off+8])
	off += 8

	if off+footerTrailerLen != len(payload) {
		return footer{}, fmt.Errorf("sstable: footer trailer at wrong offset")
	}
	if string(payload[off:off+len(footerMagic)]) != string(footerMagic[:]) {
		return footer{}, fmt.Errorf("sstable: bad footer magic")
	}
	off += len(footerMagic)
	version := binary.LittleEndian.Uint32(payload[off : off+4])
	if version != footerFormatVersion {
		return footer{}, fmt.Errorf("sstable: unsupported footer format version %d", version)
	}

	return f, nil
}

// indexEntry records the first key stored in one data block and the page
// id that block was written to. The in-memory index is the concatenation
// of every index page's entries, in ascending key order.
type indexEntry struct {
	FirstKey []byte
	PageID   uint64
}

func appendIndexEntry(dst []byte, e indexEntry) []byte {
	var scratch [12]byte
	binary.LittleEndian.PutUint32(scratch[0:4], uint32(len(e.FirstKey)))
	binary.LittleEndian.PutUint64(scratch[4:12], e.PageID)
	dst = append(dst, scratch[:]...)
	dst = append(dst, e.FirstKey...)
	return dst
}

func decodeIndexPage(payload []byte) ([]indexEntry, error) {
	var entries []indexEntry
	for len(payload) > 0 {
		if len(payload) < 12 {
			return nil, fmt.Errorf("sstable: truncated index entry")
		}
		keyLen := binary.LittleEndian.Uint32(payload[0:4])
		pageID := binary.LittleEndian.Uint64(payload[4:12])
		payload = payload[12:]
		if uint32(len(payload)) < keyLen {
			return nil, fmt.Errorf("sstable: index key overruns page")
		}
		entries = append(entries, indexEntry{
			FirstKey: append([]byte(nil), payload[:keyLen]...),
			PageID:   pageID,
		})
		payload = payload[keyLen:]
	}
	return entries, nil
}
