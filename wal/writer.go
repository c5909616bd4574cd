// Package wal implements the append-only, per-record-checksummed log the
// coordinator writes every mutation to before it is visible in the
// memtable.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/nohashbrownsdb/lsmkv/record"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Writer appends records to one WAL file. Every accepted mutation is
// written and, unless fsync is disabled, fsynced before Write returns —
// that fsync is what lets the coordinator promise a put is durable before
// it inserts into the memtable.
type Writer struct {
	file  string
	dest  *os.File
	fsync bool
}

// NewWriter opens (creating if absent) the WAL file at path. fsyncOnWrite
// controls whether Write fsyncs after every append; disabling it is only
// appropriate for tests, since it breaks the durability invariant.
func NewWriter(path string, fsyncOnWrite bool) (*Writer, error) {
	dest, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Writer{file: path, dest: dest, fsync: fsyncOnWrite}, nil
}

// Write appends one entry's record to the log: length(u32) | body | crc32c
// of body (u32). The body is record.Encode's kind|seq_num|key_len|key|
// value_len|value encoding, so a block reader can reuse the same decoder.
func (w *Writer) Write(e record.Entry) error {
	body := record.Encode(nil, e)

	buf := make([]byte, 0, 4+len(body)+4)
	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], uint32(len(body)))
	buf = append(buf, lenField[:]...)
	buf = append(buf, body...)

	sum := crc32.Checksum(body, castagnoli)
	var sumField [4]byte
	binary.LittleEndian.PutUint32(sumField[:], sum)
	buf = append(buf, sumField[:]...)

	if _, err := w.dest.Write(buf); err != nil {
		return fmt.Errorf("wal: write: %w", err)
	}
	if !w.fsync {
		return nil
	}
	if err := w.dest.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// File returns the path this writer is appending to.
func (w *Writer) File() string {
	return w.file
}

func (w *Writer) Close() error {
	return w.dest.Close()
}
