package lsmkv

import (
	"github.com/nohashbrownsdb/lsmkv/filter"
	"github.com/nohashbrownsdb/lsmkv/page"
	"github.com/nohashbrownsdb/lsmkv/record"
)

// sstWriter builds one SSTable file from a single memtable's ordered
// iteration, per the build path the footer describes: data blocks first,
// then the index, then a whole-table bloom filter sidecar, then the
// footer as the file's last page.
type sstWriter struct {
	pf     *page.File
	filt   filter.Filter
	block  *blockBuilder
	blockFirstKey []byte

	index []indexEntry

	smallest, largest []byte
	minSeq, maxSeq    uint64
	entryCount        uint64
}

func createSSTable(path string, pageSize int, f filter.Filter) (*sstWriter, error) {
	pf, err := page.Create(path, pageSize)
	if err != nil {
		return nil, ioError(err)
	}
	return &sstWriter{
		pf:    pf,
		filt:  f,
		block: newBlockBuilder(page.MaxPayload(pageSize)),
	}, nil
}

// Append adds one entry. Entries must arrive in (key ascending, seq_num
// descending) order, exactly the order a memtable iterates in.
func (w *sstWriter) Append(e record.Entry) error {
	if !w.block.Fits(e) {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	if w.block.Len() == 0 {
		w.blockFirstKey = append(w.blockFirstKey[:0], e.Key...)
	}
	w.block.Append(e)
	w.filt.Add(e.Key)

	if w.entryCount == 0 {
		w.smallest = append([]byte(nil), e.Key...)
		w.minSeq, w.maxSeq = e.SeqNum, e.SeqNum
	}
	w.largest = append(w.largest[:0], e.Key...)
	if e.SeqNum < w.minSeq {
		w.minSeq = e.SeqNum
	}
	if e.SeqNum > w.maxSeq {
		w.maxSeq = e.SeqNum
	}
	w.entryCount++
	return nil
}

func (w *sstWriter) flushBlock() error {
	if w.block.Len() == 0 {
		return nil
	}
	id, err := w.pf.Allocate()
	if err != nil {
		return ioError(err)
	}
	if err := w.pf.WritePage(&page.Page{ID: id, Kind: blockKind, Payload: w.block.buf.Bytes()}); err != nil {
		return ioError(err)
	}
	w.index = append(w.index, indexEntry{FirstKey: append([]byte(nil), w.blockFirstKey...), PageID: id})
	w.block.Reset()
	return nil
}

// Finish flushes the last partial block, writes the index, the bloom
// filter sidecar, and the footer, then fsyncs the file. It returns the
// footer that the manifest and open() will key off of; EntryCount of 0
// means the writer never saw a call to Append and no file should be kept.
func (w *sstWriter) Finish() (footer, error) {
	if err := w.flushBlock(); err != nil {
		return footer{}, err
	}

	maxPayload := page.MaxPayload(w.pf.Size())

	firstIndexID, indexPageCount, err := w.writePages(page.KindIndex, w.encodeIndexPages(maxPayload))
	if err != nil {
		return footer{}, err
	}

	var firstFilterID uint64
	var filterPageCount uint32
	if w.entryCount > 0 {
		bitmap := w.filt.Hash()
		firstFilterID, filterPageCount, err = w.writePages(page.KindFilter, splitPayload(bitmap, maxPayload))
		if err != nil {
			return footer{}, err
		}
	}

	f := footer{
		PageSize:          uint32(w.pf.Size()),
		IndexPageCount:    indexPageCount,
		FirstIndexPageID:  firstIndexID,
		FilterPageCount:   filterPageCount,
		FirstFilterPageID: firstFilterID,
		SmallestKey:       w.smallest,
		LargestKey:        w.largest,
		MinSeqNum:         w.minSeq,
		MaxSeqNum:         w.maxSeq,
		EntryCount:        w.entryCount,
	}

	footerID, err := w.pf.Allocate()
	if err != nil {
		return footer{}, ioError(err)
	}
	if err := w.pf.WritePage(&page.Page{ID: footerID, Kind: page.KindFooter, Payload: encodeFooter(f)}); err != nil {
		return footer{}, ioError(err)
	}
	if err := w.pf.Sync(); err != nil {
		return footer{}, err
	}
	return f, nil
}

// writePages allocates and writes one page per chunk, returning the first
// page's id and the number of pages written.
func (w *sstWriter) writePages(kind page.Kind, chunks [][]byte) (firstID uint64, count uint32, err error) {
	for i, chunk := range chunks {
		id, err := w.pf.Allocate()
		if err != nil {
			return 0, 0, ioError(err)
		}
		if i == 0 {
			firstID = id
		}
		if err := w.pf.WritePage(&page.Page{ID: id, Kind: kind, Payload: chunk}); err != nil {
			return 0, 0, ioError(err)
		}
		count++
	}
	return firstID, count, nil
}

func (w *sstWriter) encodeIndexPages(maxPayload int) [][]byte {
	var pages [][]byte
	var cur []byte
	for _, e := range w.index {
		enc := appendIndexEntry(nil, e)
		if len(cur)+len(enc) > maxPayload && len(cur) > 0 {
			pages = append(pages, cur)
			cur = nil
		}
		cur = append(cur, enc...)
	}
	if len(cur) > 0 {
		pages = append(pages, cur)
	}
	return pages
}

// splitPayload breaks a byte slice into maxPayload-sized chunks.
func splitPayload(b []byte, maxPayload int) [][]byte {
	var chunks [][]byte
	for len(b) > 0 {
		n := len(b)
		if n > maxPayload {
			n = maxPayload
		}
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return chunks
}

// Close releases the underlying file handle after a successful Finish.
func (w *sstWriter) Close() error {
	return w.pf.Close()
}

// Abort closes the file handle of a partially written SSTable, used when
// the caller decides not to keep an empty or failed build. It does not
// delete the file; the caller removes it.
func (w *sstWriter) Abort() error {
	return w.pf.Close()
}
