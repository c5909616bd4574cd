// Package memtable implements the in-memory ordered multi-map the LSM
// coordinator writes into before a flush turns it into an SSTable.
package memtable

import "github.com/nohashbrownsdb/lsmkv/record"

// MemTable is an ordered container of entries keyed by (key ascending,
// seq_num descending). It never deduplicates across versions — that is the
// merge iterator's job — and is not safe for concurrent writers; the
// coordinator serializes writes through a single exclusive gate.
type MemTable interface {
	// Insert adds one versioned entry. O(log n). Inserting an entry whose
	// (key, seq_num) is already present is a no-op.
	Insert(e record.Entry)
	// GetLatest returns the entry with the largest seq_num for key, if any.
	GetLatest(key []byte) (record.Entry, bool)
	// GetAll returns every version of key, newest first.
	GetAll(key []byte) []record.Entry
	// All returns every entry in the table in (key asc, seq desc) order.
	All() []record.Entry
	// SizeBytes is the current footprint: sum of key+value+overhead.
	SizeBytes() uint64
}

// Constructor builds a fresh, empty MemTable. The coordinator calls it once
// at open and again after every flush.
type Constructor func() MemTable
