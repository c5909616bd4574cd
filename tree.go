package lsmkv

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/nohashbrownsdb/lsmkv/bufferpool"
	"github.com/nohashbrownsdb/lsmkv/memtable"
	"github.com/nohashbrownsdb/lsmkv/page"
	"github.com/nohashbrownsdb/lsmkv/record"
	"github.com/nohashbrownsdb/lsmkv/wal"
)

// Tree is the public façade over one open database directory: the WAL,
// the active memtable, the buffer pool shared by every SSTable, and the
// manifest-backed ordered list of live runs.
type Tree struct {
	conf *Config

	// dataLock serializes every mutation end to end — seq_num allocation,
	// WAL append+fsync, memtable insert, and any flush it triggers — and
	// is held for read by every Get/scan so a reader's view is always a
	// consistent snapshot of memtable + sstables. See DESIGN.md for why
	// this module takes the lock-based resolution of the dual-memtable
	// open question rather than a flushing/active split.
	dataLock sync.RWMutex

	pool *bufferpool.Pool

	memTable  memtable.MemTable
	walWriter *wal.Writer
	walSeq    int

	// sstables is the live run list in chronological order, oldest first;
	// reads walk it back to front so the newest run is consulted first.
	sstables      []*sstable
	nextSSTableID uint64
	nextSeqNum    uint64

	errored bool
	closed  bool
}

// Open loads the manifest, opens every SSTable it lists, replays the WAL
// into a fresh memtable, and returns a ready-to-use Tree. See
// tree_restore.go for the crash-recovery details.
func Open(conf *Config) (*Tree, error) {
	t := &Tree{
		conf: conf,
		pool: bufferpool.New(conf.BufferPoolFrames),
	}
	if err := t.recover(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) sstPath(id uint64) string {
	return filepath.Join(t.conf.DataDir, fmt.Sprintf("sst-%d.dat", id))
}

func (t *Tree) walPath(seq int) string {
	return filepath.Join(t.conf.walDir(), fmt.Sprintf("wal-%d.log", seq))
}

// Put assigns the next sequence number, durably appends to the WAL,
// inserts into the memtable, and flushes if the size threshold is met.
func (t *Tree) Put(key, value []byte) error {
	return t.write(record.Entry{Key: key, Kind: record.KindPut, Value: value})
}

// Delete appends a tombstone for key, regardless of whether key currently
// has a live value.
func (t *Tree) Delete(key []byte) error {
	return t.write(record.Entry{Key: key, Kind: record.KindDelete})
}

func (t *Tree) write(e record.Entry) error {
	if err := t.validateEntrySize(e); err != nil {
		return err
	}

	t.dataLock.Lock()
	defer t.dataLock.Unlock()

	if t.closed {
		return ErrNotOpen
	}
	if t.errored {
		return ErrEngineErrored
	}
	if err := t.validateGroupSizeLocked(e); err != nil {
		return err
	}

	e.SeqNum = t.nextSeqNum
	if err := t.walWriter.Write(e); err != nil {
		t.errored = true
		return ioError(err)
	}
	t.nextSeqNum++
	t.memTable.Insert(e)

	if t.memTable.SizeBytes() >= t.conf.MemtableSizeThreshold {
		if err := t.flushLocked(); err != nil {
			t.errored = true
			return err
		}
	}
	return nil
}

// validateEntrySize rejects, before any state is touched, an entry too
// large for a data block to ever hold — one whose encoded size alone
// exceeds a page's payload capacity. Without this check the entry would
// be accepted into the WAL and memtable and only fail much later, during
// a flush, as an opaque IO error that also flips the engine into its
// errored state.
func (t *Tree) validateEntrySize(e record.Entry) error {
	maxPayload := page.MaxPayload(t.conf.PageSize)
	if n := record.EncodedLen(e); n > maxPayload {
		return invalidArgumentError(fmt.Sprintf("entry of %d bytes exceeds the maximum of %d bytes for a %d-byte page", n, maxPayload, t.conf.PageSize))
	}
	return nil
}

// validateGroupSizeLocked rejects a write that would grow a key's version
// group past what a single data block can ever hold. blockBuilder.Fits
// (block.go) never splits a key's versions across a block boundary, so a
// group that outgrows one page can never be flushed — it would fail deep
// inside page.Page.Encode at flush time and flip the engine into its
// errored state instead of surfacing as an InvalidArgument at put/delete
// time. Must be called with dataLock held.
func (t *Tree) validateGroupSizeLocked(e record.Entry) error {
	maxPayload := page.MaxPayload(t.conf.PageSize)
	existing := t.memTable.GetAll(e.Key)
	total := record.EncodedLen(e)
	for _, ex := range existing {
		total += record.EncodedLen(ex)
	}
	if total > maxPayload {
		return invalidArgumentError(fmt.Sprintf("key's version group would grow to %d bytes across %d versions, exceeding the maximum of %d bytes for a %d-byte page; flush to start a fresh group", total, len(existing)+1, maxPayload, t.conf.PageSize))
	}
	return nil
}

// Get returns the live value for key, or false if it has none (either no
// entry exists, or the newest entry is a tombstone).
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.dataLock.RLock()
	defer t.dataLock.RUnlock()

	if t.closed {
		return nil, false, ErrNotOpen
	}

	if e, ok := t.memTable.GetLatest(key); ok {
		return entryValue(e)
	}
	for i := len(t.sstables) - 1; i >= 0; i-- {
		e, ok, err := t.sstables[i].GetLatest(key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return entryValue(e)
		}
	}
	return nil, false, nil
}

func entryValue(e record.Entry) ([]byte, bool, error) {
	if e.IsTombstone() {
		return nil, false, nil
	}
	return e.Value, true, nil
}

// GetAll returns every version of key, newest first, across the memtable
// and then each SSTable from newest to oldest. Tombstones are included.
func (t *Tree) GetAll(key []byte) ([]Entry, error) {
	t.dataLock.RLock()
	defer t.dataLock.RUnlock()

	if t.closed {
		return nil, ErrNotOpen
	}

	all := t.memTable.GetAll(key)
	for i := len(t.sstables) - 1; i >= 0; i-- {
		versions, err := t.sstables[i].GetAll(key)
		if err != nil {
			return nil, err
		}
		all = append(all, versions...)
	}
	return all, nil
}

// ScanLive returns every live key/value pair in ascending key order, with
// deleted keys and shadowed versions omitted.
func (t *Tree) ScanLive() ([]KV, error) {
	sources, err := t.readSources()
	if err != nil {
		return nil, err
	}
	return scanLive(sources), nil
}

// ScanAllVersions returns every version of every key, including
// tombstones, in ascending key and descending seq_num order.
func (t *Tree) ScanAllVersions() ([]Entry, error) {
	sources, err := t.readSources()
	if err != nil {
		return nil, err
	}
	return scanAllVersions(sources), nil
}

// readSources snapshots the memtable and every live SSTable under the
// read lock and materializes one entrySource per source, newest first.
func (t *Tree) readSources() ([]entrySource, error) {
	t.dataLock.RLock()
	defer t.dataLock.RUnlock()

	if t.closed {
		return nil, ErrNotOpen
	}

	sources := []entrySource{newSliceSource(t.memTable.All())}
	for i := len(t.sstables) - 1; i >= 0; i-- {
		entries, err := t.sstables[i].All()
		if err != nil {
			return nil, err
		}
		sources = append(sources, newSliceSource(entries))
	}
	return sources, nil
}

// Flush forces the current memtable to disk even if it is below the size
// threshold. A no-op if the memtable is empty.
func (t *Tree) Flush() error {
	t.dataLock.Lock()
	defer t.dataLock.Unlock()

	if t.closed {
		return ErrNotOpen
	}
	if err := t.flushLocked(); err != nil {
		t.errored = true
		return err
	}
	return nil
}

// Close flushes any unflushed writes and releases every open file. Get
// and scan calls after Close return ErrNotOpen.
func (t *Tree) Close() error {
	t.dataLock.Lock()
	defer t.dataLock.Unlock()

	if t.closed {
		return nil
	}

	var flushErr error
	if !t.errored {
		flushErr = t.flushLocked()
	}

	for _, st := range t.sstables {
		_ = st.Close()
	}
	if t.walWriter != nil {
		_ = t.walWriter.Close()
	}
	t.closed = true
	return flushErr
}
