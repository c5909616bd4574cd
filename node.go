package lsmkv

import (
	"bytes"
	"os"
	"sort"

	"github.com/nohashbrownsdb/lsmkv/bufferpool"
	"github.com/nohashbrownsdb/lsmkv/filter"
	"github.com/nohashbrownsdb/lsmkv/page"
	"github.com/nohashbrownsdb/lsmkv/record"
)

// sstable is a handle onto one immutable, fsynced on-disk run: its footer,
// index, and whole-table bloom filter bitmap are loaded once at open time
// and held in memory; data blocks are faulted in through the shared buffer
// pool on demand. Any number of readers share one sstable without locking
// — nothing here ever mutates after openSSTable returns.
type sstable struct {
	id   uint64
	path string
	pf   *page.File
	pool *bufferpool.Pool
	filt filter.Filter

	ft           footer
	index        []indexEntry
	filterBitmap []byte
}

// openSSTable opens an existing SSTable file read-only, validates and
// loads its footer, index, and filter sidecar. filt is used only for its
// stateless Exist(bitmap, key) method — the table's own bitmap was baked
// in at write time, so filt's own Add/Reset state is never touched here.
func openSSTable(id uint64, path string, pageSize int, pool *bufferpool.Pool, filt filter.Filter) (*sstable, error) {
	pf, err := page.OpenReadOnly(path, pageSize)
	if err != nil {
		return nil, ioError(err)
	}

	count := pf.PageCount()
	if count == 0 {
		pf.Close()
		return nil, corruptionError(path, 0, "empty sstable file")
	}
	footerID := count - 1
	footerPage, err := pf.ReadPage(footerID)
	if err != nil {
		pf.Close()
		return nil, wrapPageCorruption(path, err)
	}
	if footerPage.Kind != page.KindFooter {
		pf.Close()
		return nil, corruptionError(path, int64(footerID), "last page of sstable is not a footer")
	}
	ft, err := decodeFooter(footerPage.Payload)
	if err != nil {
		pf.Close()
		return nil, corruptionError(path, int64(footerID), err.Error())
	}
	if int(ft.PageSize) != pageSize {
		pf.Close()
		return nil, corruptionError(path, int64(footerID), "sstable page size does not match database page size")
	}

	st := &sstable{id: id, path: path, pf: pf, pool: pool, filt: filt, ft: ft}

	index, err := st.readContiguousPages(ft.FirstIndexPageID, ft.IndexPageCount, decodeIndexConcat)
	if err != nil {
		pf.Close()
		return nil, err
	}
	st.index = index.([]indexEntry)

	if ft.FilterPageCount > 0 {
		bitmap, err := st.readContiguousPages(ft.FirstFilterPageID, ft.FilterPageCount, concatBytes)
		if err != nil {
			pf.Close()
			return nil, err
		}
		st.filterBitmap = bitmap.([]byte)
	}

	return st, nil
}

func wrapPageCorruption(path string, err error) error {
	if ce, ok := err.(*page.CorruptionError); ok {
		return corruptionError(path, int64(ce.PageID), ce.Reason)
	}
	return ioError(err)
}

// readContiguousPages reads count pages starting at firstID (pages
// written by one writePages call always land on contiguous ids) and folds
// their payloads with combine.
func (s *sstable) readContiguousPages(firstID uint64, count uint32, combine func([][]byte) interface{}) (interface{}, error) {
	payloads := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := s.pf.ReadPage(firstID + uint64(i))
		if err != nil {
			return nil, wrapPageCorruption(s.path, err)
		}
		payloads = append(payloads, p.Payload)
	}
	return combine(payloads), nil
}

func decodeIndexConcat(payloads [][]byte) interface{} {
	var all []indexEntry
	for _, p := range payloads {
		entries, err := decodeIndexPage(p)
		if err != nil {
			continue
		}
		all = append(all, entries...)
	}
	return all
}

func concatBytes(payloads [][]byte) interface{} {
	var buf []byte
	for _, p := range payloads {
		buf = append(buf, p...)
	}
	return buf
}

func (s *sstable) ID() uint64          { return s.id }
func (s *sstable) Smallest() []byte    { return s.ft.SmallestKey }
func (s *sstable) Largest() []byte     { return s.ft.LargestKey }
func (s *sstable) MinSeqNum() uint64   { return s.ft.MinSeqNum }
func (s *sstable) MaxSeqNum() uint64   { return s.ft.MaxSeqNum }
func (s *sstable) EntryCount() uint64  { return s.ft.EntryCount }

// GetLatest returns the newest version of key in this table, if any.
func (s *sstable) GetLatest(key []byte) (record.Entry, bool, error) {
	entries, ok, err := s.readKeyGroup(key)
	if err != nil || !ok {
		return record.Entry{}, false, err
	}
	return entries[0], true, nil
}

// GetAll returns every version of key stored in this table, newest first.
func (s *sstable) GetAll(key []byte) ([]record.Entry, error) {
	entries, _, err := s.readKeyGroup(key)
	return entries, err
}

func (s *sstable) readKeyGroup(key []byte) ([]record.Entry, bool, error) {
	if s.ft.EntryCount == 0 {
		return nil, false, nil
	}
	if s.filterBitmap != nil && !s.filt.Exist(s.filterBitmap, key) {
		return nil, false, nil
	}

	blockIdx := s.binarySearchIndex(key)
	if blockIdx < 0 {
		return nil, false, nil
	}

	entries, err := s.readBlock(s.index[blockIdx].PageID)
	if err != nil {
		return nil, false, err
	}

	var group []record.Entry
	for _, e := range entries {
		if bytes.Equal(e.Key, key) {
			group = append(group, e)
		} else if group != nil {
			break
		}
	}
	return group, len(group) > 0, nil
}

// All returns every entry in the table in stored (key ascending, seq_num
// descending) order, used by full scans and compaction.
func (s *sstable) All() ([]record.Entry, error) {
	var all []record.Entry
	for _, ie := range s.index {
		entries, err := s.readBlock(ie.PageID)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

func (s *sstable) readBlock(pageID uint64) ([]record.Entry, error) {
	h, err := s.pool.Pin(s.pf, pageID)
	if err != nil {
		return nil, wrapPageCorruption(s.path, err)
	}
	payload := h.Page().Payload
	entries, err := decodeBlock(payload)
	s.pool.Unpin(h, false)
	if err != nil {
		return nil, corruptionError(s.path, int64(pageID), err.Error())
	}
	return entries, nil
}

// binarySearchIndex returns the index of the last block whose FirstKey is
// <= key, or -1 if key precedes every block.
func (s *sstable) binarySearchIndex(key []byte) int {
	i := sort.Search(len(s.index), func(i int) bool {
		return bytes.Compare(s.index[i].FirstKey, key) > 0
	})
	return i - 1
}

// Close releases the sstable's cached pages and closes its file. It does
// not delete the file.
func (s *sstable) Close() error {
	s.pool.Invalidate(s.pf)
	return s.pf.Close()
}

// Destroy closes and permanently deletes the underlying file; used only
// for an orphaned SSTable discovered at recovery or a run retired by
// compaction.
func (s *sstable) Destroy() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return ioError(err)
	}
	return nil
}
