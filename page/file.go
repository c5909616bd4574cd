package page

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// fileHeaderLen holds the page size and the next-page-id counter at the
// front of every page file, so a reopen can resume allocation.
const fileHeaderLen = 16

// File is an append/random-read array of fixed-size pages backed by one
// on-disk file. It carries no knowledge of what the pages mean.
type File struct {
	size     int
	mu       sync.Mutex
	f        *os.File
	nextID   atomic.Uint64
	readOnly bool
}

// Create opens a brand-new, empty page file with the given frame size.
func Create(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("page: create %s: %w", path, err)
	}
	pf := &File{size: size, f: f}
	if err := pf.writeFileHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return pf, nil
}

// Open reopens an existing page file, picking allocation back up from the
// persisted next-page-id counter.
func Open(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("page: open %s: %w", path, err)
	}
	pf := &File{size: size, f: f}
	if err := pf.readFileHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return pf, nil
}

// OpenReadOnly opens an existing, immutable page file (an SSTable once it
// has been fsynced). Writes through it are rejected.
func OpenReadOnly(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("page: open %s: %w", path, err)
	}
	pf := &File{size: size, f: f, readOnly: true}
	if err := pf.readFileHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return pf, nil
}

func (pf *File) writeFileHeader() error {
	hdr := make([]byte, fileHeaderLen)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(pf.size))
	binary.LittleEndian.PutUint64(hdr[4:12], 0)
	if _, err := pf.f.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("page: write file header: %w", err)
	}
	return nil
}

func (pf *File) readFileHeader() error {
	hdr := make([]byte, fileHeaderLen)
	if _, err := io.ReadFull(pf.f, hdr); err != nil {
		return fmt.Errorf("page: read file header: %w", err)
	}
	onDiskSize := int(binary.LittleEndian.Uint32(hdr[0:4]))
	if onDiskSize != pf.size {
		return &CorruptionError{Reason: fmt.Sprintf("page size mismatch: file has %d, database expects %d", onDiskSize, pf.size)}
	}
	pf.nextID.Store(binary.LittleEndian.Uint64(hdr[4:12]))
	return nil
}

// frameOffset returns the byte offset of the region holding page id, which
// sits after the file header.
func (pf *File) frameOffset(id uint64) int64 {
	return fileHeaderLen + int64(id)*int64(pf.size)
}

// Allocate reserves and returns the next page id. It persists the advanced
// counter in the file header but writes no page data.
func (pf *File) Allocate() (uint64, error) {
	if pf.readOnly {
		return 0, fmt.Errorf("page: allocate on read-only file")
	}
	id := pf.nextID.Add(1) - 1
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint64(hdr, id+1)
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if _, err := pf.f.WriteAt(hdr, 4); err != nil {
		return 0, fmt.Errorf("page: persist next id: %w", err)
	}
	return id, nil
}

// WritePage writes p at its own id's slot.
func (pf *File) WritePage(p *Page) error {
	if pf.readOnly {
		return fmt.Errorf("page: write on read-only file")
	}
	buf, err := p.Encode(pf.size)
	if err != nil {
		return err
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if _, err := pf.f.WriteAt(buf, pf.frameOffset(p.ID)); err != nil {
		return fmt.Errorf("page: write page %d: %w", p.ID, err)
	}
	return nil
}

// ReadPage reads and verifies the page stored at id.
func (pf *File) ReadPage(id uint64) (*Page, error) {
	buf := make([]byte, pf.size)
	pf.mu.Lock()
	_, err := pf.f.ReadAt(buf, pf.frameOffset(id))
	pf.mu.Unlock()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("page: read page %d: %w", id, err)
	}
	p, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Sync fsyncs the underlying file.
func (pf *File) Sync() error {
	if err := pf.f.Sync(); err != nil {
		return fmt.Errorf("page: fsync: %w", err)
	}
	return nil
}

// Size returns the fixed page frame size for this file.
func (pf *File) Size() int {
	return pf.size
}

// PageCount returns the number of pages allocated so far.
func (pf *File) PageCount() uint64 {
	return pf.nextID.Load()
}

// Close closes the underlying file without an implicit sync.
func (pf *File) Close() error {
	return pf.f.Close()
}
