// Package lsmkv is an embeddable, ordered key-value storage engine built on
// the log-structured merge-tree pattern: durable writes through a
// write-ahead log, an in-memory memtable, and immutable on-disk sorted runs
// (SSTables) unified at read time by a merging iterator.
package lsmkv

import "github.com/nohashbrownsdb/lsmkv/record"

// Key and Value are opaque, immutable byte sequences. Key's total order is
// lexicographic; the empty key is legal.
type Key = []byte
type Value = []byte

// Kind distinguishes a live value from a tombstone.
type Kind = record.Kind

const (
	KindPut    = record.KindPut
	KindDelete = record.KindDelete
)

// Entry is one versioned mutation as the coordinator's GetAll and scan
// operations expose it: a key, the sequence number it was assigned at, its
// kind, and its value (nil for a delete).
type Entry = record.Entry

// KV is a resolved, live key/value pair, as scan_live and a successful Get
// expose it — no sequence number, no tombstones.
type KV struct {
	Key   Key
	Value Value
}
