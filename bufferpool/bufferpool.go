// Package bufferpool implements a bounded, clock-swept cache of fixed-size
// pages, shared by every open SSTable. A pinned frame is immune to
// eviction; pin/unpin are the only way frames change hands.
package bufferpool

import (
	"fmt"
	"sync"

	"github.com/nohashbrownsdb/lsmkv/page"
)

// Source fetches a page by id when it isn't already cached. One Source per
// open page.File; the pool is keyed by (Source, page id) so many files can
// share one pool.
type Source interface {
	ReadPage(id uint64) (*page.Page, error)
}

// Sink writes a dirty frame back to its backing file. *page.File satisfies
// both Source and Sink; a Source that doesn't (e.g. a read-only file) never
// has a frame marked dirty against it, since nothing can write through it.
type Sink interface {
	WritePage(p *page.Page) error
}

type frameKey struct {
	src Source
	id  uint64
}

type frame struct {
	key    frameKey
	page   *page.Page
	pinCnt int
	refBit bool
	dirty  bool
}

// Pool is a fixed-capacity map from page id to frame, with clock-sweep
// replacement: each frame carries one reference bit, and eviction sweeps a
// rotating hand clearing set bits until it finds an unset, unpinned frame.
type Pool struct {
	mu       sync.Mutex
	capacity int
	frames   []*frame
	index    map[frameKey]int
	hand     int
}

// New creates a pool that holds up to capacity pages.
func New(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		capacity: capacity,
		index:    make(map[frameKey]int, capacity),
	}
}

// Handle is a pinned reference to a cached page. The caller must call
// Unpin exactly once when done with Page().
type Handle struct {
	pool *Pool
	slot int
}

// Page returns the frame's current contents. Valid only while the handle
// remains pinned.
func (h Handle) Page() *page.Page {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.pool.frames[h.slot].page
}

// Pin faults the page in from src if it isn't already cached, pins it
// against eviction, and returns a handle. A second Pin of the same
// (src, id) increments the pin count and returns the same underlying frame.
func (p *Pool) Pin(src Source, id uint64) (Handle, error) {
	key := frameKey{src: src, id: id}

	p.mu.Lock()
	if slot, ok := p.index[key]; ok {
		p.frames[slot].pinCnt++
		p.frames[slot].refBit = true
		p.mu.Unlock()
		return Handle{pool: p, slot: slot}, nil
	}
	p.mu.Unlock()

	pg, err := src.ReadPage(id)
	if err != nil {
		return Handle{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another goroutine may have faulted the same page in while we read it
	// without the lock held; prefer the now-cached copy.
	if slot, ok := p.index[key]; ok {
		p.frames[slot].pinCnt++
		p.frames[slot].refBit = true
		return Handle{pool: p, slot: slot}, nil
	}

	newFrame := &frame{key: key, page: pg, pinCnt: 1, refBit: true}
	slot, err := p.place(newFrame)
	if err != nil {
		return Handle{}, err
	}
	return Handle{pool: p, slot: slot}, nil
}

// place inserts newFrame into the pool, preferring a slot freed by
// Invalidate, then growing up to capacity, then evicting via clock-sweep.
// Caller holds p.mu.
func (p *Pool) place(newFrame *frame) (int, error) {
	for slot, f := range p.frames {
		if f == nil {
			p.frames[slot] = newFrame
			p.index[newFrame.key] = slot
			return slot, nil
		}
	}

	if len(p.frames) < p.capacity {
		p.frames = append(p.frames, newFrame)
		slot := len(p.frames) - 1
		p.index[newFrame.key] = slot
		return slot, nil
	}

	slot, err := p.evictLocked()
	if err != nil {
		return 0, err
	}
	if p.frames[slot] != nil {
		delete(p.index, p.frames[slot].key)
	}
	p.frames[slot] = newFrame
	p.index[newFrame.key] = slot
	return slot, nil
}

// evictLocked advances the clock hand until it finds a free, or unpinned
// reference-bit-clear, frame, clearing set bits as it passes them over. A
// dirty victim is written back to its source before its slot is reused.
func (p *Pool) evictLocked() (int, error) {
	n := len(p.frames)
	for sweeps := 0; sweeps < 2*n+1; sweeps++ {
		slot := p.hand
		p.hand = (p.hand + 1) % n
		f := p.frames[slot]
		if f == nil {
			return slot, nil
		}
		if f.pinCnt > 0 {
			continue
		}
		if f.refBit {
			f.refBit = false
			continue
		}
		if f.dirty {
			if err := p.writeBackLocked(f); err != nil {
				return 0, err
			}
		}
		return slot, nil
	}
	return 0, fmt.Errorf("bufferpool: no evictable frame (all %d frames pinned)", n)
}

// writeBackLocked flushes f's page through its source's Sink, if it has
// one, and clears the dirty bit. Caller holds p.mu.
func (p *Pool) writeBackLocked(f *frame) error {
	sink, ok := f.key.src.(Sink)
	if !ok {
		return fmt.Errorf("bufferpool: dirty frame for page %d has no Sink to flush through", f.key.id)
	}
	if err := sink.WritePage(f.page); err != nil {
		return fmt.Errorf("bufferpool: write back page %d: %w", f.key.id, err)
	}
	f.dirty = false
	return nil
}

// FlushAll writes back every dirty frame currently cached, regardless of
// pin state, without evicting anything. Required before a caller that
// mutates pages through the pool can rely on those writes surviving a
// later Sync of the underlying file.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.frames {
		if f == nil || !f.dirty {
			continue
		}
		if err := p.writeBackLocked(f); err != nil {
			return err
		}
	}
	return nil
}

// Unpin releases one pin on the handle's frame. If dirty is true the frame
// is marked dirty; it is written back by FlushAll, or by eviction before
// its slot is reused, whichever comes first.
func (p *Pool) Unpin(h Handle, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.frames[h.slot]
	if f.pinCnt > 0 {
		f.pinCnt--
	}
	if dirty {
		f.dirty = true
	}
}

// Invalidate drops every cached frame belonging to src, e.g. because the
// underlying file was deleted. Pinned frames are left alone; callers must
// not invalidate a source whose pages are still pinned.
func (p *Pool) Invalidate(src Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, slot := range p.index {
		if key.src == src && p.frames[slot].pinCnt == 0 {
			delete(p.index, key)
			p.frames[slot] = nil
		}
	}
}
