package lsmkv

import (
	"os"

	"github.com/nohashbrownsdb/lsmkv/wal"
)

// flushLocked implements the two-phase flush protocol. The caller must
// hold dataLock for write. Crash points C1-C4 from the protocol:
//
//	C1: new sstable file written and fsynced, but not yet renamed in.
//	C2: renamed to its final name; parent directory fsynced.
//	C3: manifest rewritten to reference it, fsynced, renamed into place.
//	C4: the WAL is rotated — new file created, old one unlinked.
//
// Before C3 the new file is an orphan if the process crashes; recover()
// deletes any sst-*.dat not listed in the manifest. Between C3 and C4 the
// entries exist in both the new SSTable and the old WAL; replaying the
// old WAL re-inserts them with their original seq_nums, which is safe
// because memtable insert is idempotent for identical (key, seq_num).
func (t *Tree) flushLocked() error {
	entries := t.memTable.All()
	if len(entries) == 0 {
		return nil
	}

	id := t.nextSSTableID
	t.nextSSTableID++
	finalPath := t.sstPath(id)
	tmpPath := finalPath + ".tmp"

	w, err := createSSTable(tmpPath, t.conf.PageSize, t.conf.Filter)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			_ = w.Abort()
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if _, err := w.Finish(); err != nil {
		_ = w.Abort()
		_ = os.Remove(tmpPath)
		return err
	}
	t.conf.Filter.Reset()
	if err := w.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil { // C1 -> C2
		return ioError(err)
	}
	if err := syncDir(t.conf.DataDir); err != nil {
		return err
	}

	st, err := openSSTable(id, finalPath, t.conf.PageSize, t.pool, t.conf.Filter)
	if err != nil {
		return err
	}
	t.sstables = append(t.sstables, st)

	if err := t.saveManifestLocked(); err != nil { // C3
		return err
	}

	return t.rotateWALLocked() // C4
}

func (t *Tree) saveManifestLocked() error {
	ids := make([]uint64, len(t.sstables))
	for i, st := range t.sstables {
		ids[i] = st.ID()
	}
	m := &manifest{PageSize: uint32(t.conf.PageSize), NextSeqNum: t.nextSeqNum, SSTableIDs: ids}
	return m.save(t.conf.DataDir)
}

func (t *Tree) rotateWALLocked() error {
	oldPath := t.walWriter.File()
	newSeq := t.walSeq + 1
	newWriter, err := wal.NewWriter(t.walPath(newSeq), t.conf.FsyncOnWrite)
	if err != nil {
		return ioError(err)
	}
	if err := t.walWriter.Close(); err != nil {
		return ioError(err)
	}
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return ioError(err)
	}
	if err := syncDir(t.conf.walDir()); err != nil {
		return err
	}

	t.walWriter = newWriter
	t.walSeq = newSeq
	t.memTable = t.conf.MemTableConstructor()
	return nil
}

// Compact folds every live SSTable through the merge iterator into one
// replacement run and performs the same manifest swap a flush does. It
// is never triggered automatically — the engine must stay correct with
// runs simply accumulating, per the Non-goal on background compaction —
// and it preserves every version of every key (including shadowed ones
// and tombstones) rather than trying to prove a tombstone dead, which
// would need real cross-run key-range reasoning this module does not
// implement. See DESIGN.md.
func (t *Tree) Compact() error {
	t.dataLock.Lock()
	defer t.dataLock.Unlock()

	if t.closed {
		return ErrNotOpen
	}
	if t.errored {
		return ErrEngineErrored
	}
	if len(t.sstables) < 2 {
		return nil
	}

	sources := make([]entrySource, 0, len(t.sstables))
	old := make([]*sstable, len(t.sstables))
	copy(old, t.sstables)
	for i := len(old) - 1; i >= 0; i-- {
		entries, err := old[i].All()
		if err != nil {
			return err
		}
		sources = append(sources, newSliceSource(entries))
	}
	merged := scanAllVersions(sources)

	id := t.nextSSTableID
	t.nextSSTableID++
	finalPath := t.sstPath(id)
	tmpPath := finalPath + ".tmp"

	w, err := createSSTable(tmpPath, t.conf.PageSize, t.conf.Filter)
	if err != nil {
		return err
	}
	for _, e := range merged {
		if err := w.Append(e); err != nil {
			_ = w.Abort()
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if _, err := w.Finish(); err != nil {
		_ = w.Abort()
		_ = os.Remove(tmpPath)
		return err
	}
	t.conf.Filter.Reset()
	if err := w.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return ioError(err)
	}
	if err := syncDir(t.conf.DataDir); err != nil {
		return err
	}

	st, err := openSSTable(id, finalPath, t.conf.PageSize, t.pool, t.conf.Filter)
	if err != nil {
		return err
	}

	t.sstables = []*sstable{st}
	if err := t.saveManifestLocked(); err != nil {
		t.sstables = old
		return err
	}

	for _, o := range old {
		_ = o.Destroy()
	}
	return nil
}
