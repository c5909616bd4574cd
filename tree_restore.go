package lsmkv

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nohashbrownsdb/lsmkv/wal"
)

// recover implements open()'s contract: load the manifest, open every
// SSTable it references, garbage-collect any sst-*.dat file the manifest
// doesn't reference (an orphan left by a crash before the flush's
// manifest commit), replay the WAL into a fresh memtable, and compute the
// next sequence number as one past the maximum observed anywhere.
func (t *Tree) recover() error {
	if err := t.conf.ensureDirs(); err != nil {
		return err
	}

	m, err := loadManifest(t.conf.DataDir, t.conf.PageSize)
	if err != nil {
		return err
	}

	if err := t.cleanupOrphanSSTables(m); err != nil {
		return err
	}

	maxSeqSeen := uint64(0)
	var maxID uint64
	for _, id := range m.SSTableIDs {
		st, err := openSSTable(id, t.sstPath(id), t.conf.PageSize, t.pool, t.conf.Filter)
		if err != nil {
			return err
		}
		t.sstables = append(t.sstables, st)
		if st.MaxSeqNum() > maxSeqSeen {
			maxSeqSeen = st.MaxSeqNum()
		}
		if id >= maxID {
			maxID = id + 1
		}
	}
	t.nextSSTableID = maxID

	walSeq, walMaxSeq, err := t.recoverWAL()
	if err != nil {
		return err
	}
	t.walSeq = walSeq
	if walMaxSeq > maxSeqSeen {
		maxSeqSeen = walMaxSeq
	}

	t.nextSeqNum = maxSeqSeen + 1
	return nil
}

// cleanupOrphanSSTables deletes every sst-*.dat and leftover *.tmp in the
// data directory that the manifest does not reference.
func (t *Tree) cleanupOrphanSSTables(m *manifest) error {
	live := make(map[uint64]bool, len(m.SSTableIDs))
	for _, id := range m.SSTableIDs {
		live[id] = true
	}

	entries, err := os.ReadDir(t.conf.DataDir)
	if err != nil {
		return ioError(err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			_ = os.Remove(filepath.Join(t.conf.DataDir, name))
			continue
		}
		if !strings.HasPrefix(name, "sst-") || !strings.HasSuffix(name, ".dat") {
			continue
		}
		id, err := sstIDFromFileName(name)
		if err != nil || live[id] {
			continue
		}
		if err := os.Remove(filepath.Join(t.conf.DataDir, name)); err != nil && !os.IsNotExist(err) {
			return ioError(err)
		}
	}
	return nil
}

func sstIDFromFileName(name string) (uint64, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "sst-"), ".dat")
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// recoverWAL replays every wal-<n>.log file found, oldest first, into a
// fresh memtable, then keeps the highest-numbered file as the active
// write target and deletes the rest — stale duplicates left behind by a
// crash between the new WAL's creation and the old one's unlink at flush
// commit step C4.
func (t *Tree) recoverWAL() (activeSeq int, maxSeq uint64, err error) {
	entries, err := os.ReadDir(t.conf.walDir())
	if err != nil {
		return 0, 0, ioError(err)
	}

	type walFile struct {
		seq  int
		path string
	}
	var wals []walFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		seqStr := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".log")
		seq, convErr := strconv.Atoi(seqStr)
		if convErr != nil {
			continue
		}
		wals = append(wals, walFile{seq: seq, path: filepath.Join(t.conf.walDir(), name)})
	}
	sort.Slice(wals, func(i, j int) bool { return wals[i].seq < wals[j].seq })

	t.memTable = t.conf.MemTableConstructor()

	for _, wf := range wals {
		r, err := wal.NewReader(wf.path)
		if err != nil {
			return 0, 0, ioError(err)
		}
		result, err := r.Replay()
		_ = r.Close()
		if err != nil {
			return 0, 0, ioError(err)
		}
		for _, e := range result.Entries {
			t.memTable.Insert(e)
			if e.SeqNum > maxSeq {
				maxSeq = e.SeqNum
			}
		}
	}

	if len(wals) == 0 {
		w, err := wal.NewWriter(t.walPath(0), t.conf.FsyncOnWrite)
		if err != nil {
			return 0, 0, ioError(err)
		}
		t.walWriter = w
		return 0, maxSeq, nil
	}

	activeSeq = wals[len(wals)-1].seq
	for _, wf := range wals[:len(wals)-1] {
		if err := os.Remove(wf.path); err != nil && !os.IsNotExist(err) {
			return 0, 0, ioError(err)
		}
	}

	w, err := wal.NewWriter(t.walPath(activeSeq), t.conf.FsyncOnWrite)
	if err != nil {
		return 0, 0, ioError(err)
	}
	t.walWriter = w
	return activeSeq, maxSeq, nil
}
