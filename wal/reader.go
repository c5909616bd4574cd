package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/nohashbrownsdb/lsmkv/record"
)

// Reader replays a WAL file's records in order.
type Reader struct {
	file string
	src  *os.File
}

// NewReader opens an existing WAL file for replay.
func NewReader(path string) (*Reader, error) {
	src, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Reader{file: path, src: src}, nil
}

// ReplayResult is the outcome of one call to Replay.
type ReplayResult struct {
	// Entries are every record successfully decoded and checksum-verified,
	// in on-disk order.
	Entries []record.Entry
	// TornTailBytes is how many bytes at the end of the file were dropped
	// because they formed a partial or corrupt record. Zero means the file
	// ended cleanly on a record boundary.
	TornTailBytes int64
}

// Replay scans records from the beginning of the file. The first record
// whose checksum fails, whose declared length overruns the file, or whose
// tail is truncated ends the scan — every prior record is returned, and the
// file is truncated to the last good record boundary so the torn tail is
// never replayed again. This is not an error: it is how the log tolerates a
// write that was interrupted mid-append.
func (r *Reader) Replay() (ReplayResult, error) {
	body, err := io.ReadAll(r.src)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("wal: read %s: %w", r.file, err)
	}

	var (
		entries []record.Entry
		offset  int
	)

	for offset < len(body) {
		start := offset
		if len(body)-offset < 4 {
			break
		}
		bodyLen := int(binary.LittleEndian.Uint32(body[offset : offset+4]))
		offset += 4

		if bodyLen < 0 || offset+bodyLen+4 > len(body) {
			offset = start
			break
		}
		recBody := body[offset : offset+bodyLen]
		offset += bodyLen

		wantSum := binary.LittleEndian.Uint32(body[offset : offset+4])
		offset += 4

		if crc32.Checksum(recBody, castagnoli) != wantSum {
			offset = start
			break
		}

		e, _, derr := record.Decode(recBody)
		if derr != nil {
			offset = start
			break
		}
		entry := record.Entry{
			Key:    append([]byte(nil), e.Key...),
			SeqNum: e.SeqNum,
			Kind:   e.Kind,
			Value:  append([]byte(nil), e.Value...),
		}
		entries = append(entries, entry)
	}

	tornTail := int64(len(body) - offset)
	if tornTail > 0 {
		if err := r.src.Truncate(int64(offset)); err != nil {
			return ReplayResult{}, fmt.Errorf("wal: truncate torn tail of %s: %w", r.file, err)
		}
	}

	return ReplayResult{Entries: entries, TornTailBytes: tornTail}, nil
}

func (r *Reader) Close() error {
	return r.src.Close()
}
