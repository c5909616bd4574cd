package lsmkv

import (
	"bytes"
	"container/heap"

	"github.com/nohashbrownsdb/lsmkv/record"
)

// entrySource is one ordered stream of entries — a memtable snapshot or an
// SSTable — already in (key ascending, seq_num descending) order.
type entrySource interface {
	Peek() (record.Entry, bool)
	Advance()
}

// sliceSource adapts a pre-sorted slice (a memtable's All(), or an
// SSTable's All()) to entrySource.
type sliceSource struct {
	entries []record.Entry
	pos     int
}

func newSliceSource(entries []record.Entry) *sliceSource {
	return &sliceSource{entries: entries}
}

func (s *sliceSource) Peek() (record.Entry, bool) {
	if s.pos >= len(s.entries) {
		return record.Entry{}, false
	}
	return s.entries[s.pos], true
}

func (s *sliceSource) Advance() {
	s.pos++
}

type heapItem struct {
	entry    record.Entry
	srcIdx   int
	priority int
}

type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }

// Less orders by key ascending, then seq_num descending, then priority
// ascending — priority breaks a seq_num collision (which invariant 3
// rules out in practice) by preferring the newer source.
func (h mergeHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].entry.Key, h[j].entry.Key); c != 0 {
		return c < 0
	}
	if h[i].entry.SeqNum != h[j].entry.SeqNum {
		return h[i].entry.SeqNum > h[j].entry.SeqNum
	}
	return h[i].priority < h[j].priority
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeIterator is a k-way merge across one memtable snapshot and N
// SSTables, yielding entries in (key ascending, seq_num descending) order
// with collision tie-breaking by source priority.
type mergeIterator struct {
	sources []entrySource
	h       mergeHeap
}

// newMergeIterator builds a merge over sources, highest-priority (newest)
// source first. Priority order follows the slice order sources is given
// in — callers pass the memtable before SSTables, and SSTables newest to
// oldest, matching the coordinator's read-priority order.
func newMergeIterator(sources []entrySource) *mergeIterator {
	m := &mergeIterator{sources: sources}
	for i, src := range sources {
		if e, ok := src.Peek(); ok {
			m.h = append(m.h, heapItem{entry: e, srcIdx: i, priority: i})
		}
	}
	heap.Init(&m.h)
	return m
}

// next pops the smallest (key, !seq_num) entry and refills from its
// source.
func (m *mergeIterator) next() (record.Entry, bool) {
	if m.h.Len() == 0 {
		return record.Entry{}, false
	}
	top := heap.Pop(&m.h).(heapItem)
	src := m.sources[top.srcIdx]
	src.Advance()
	if e, ok := src.Peek(); ok {
		heap.Push(&m.h, heapItem{entry: e, srcIdx: top.srcIdx, priority: top.priority})
	}
	return top.entry, true
}

// scanLive drains the merge into the visibility rule the public API uses:
// at most one entry per key (the newest), and tombstones are dropped
// rather than surfaced.
func scanLive(sources []entrySource) []KV {
	m := newMergeIterator(sources)
	var out []KV
	var lastKey []byte
	seenAny := false
	for {
		e, ok := m.next()
		if !ok {
			break
		}
		if seenAny && bytes.Equal(e.Key, lastKey) {
			continue
		}
		lastKey = append(lastKey[:0], e.Key...)
		seenAny = true
		if e.IsTombstone() {
			continue
		}
		out = append(out, KV{Key: append([]byte{}, e.Key...), Value: append([]byte(nil), e.Value...)})
	}
	return out
}

// scanAllVersions drains the merge emitting every version of every key,
// including tombstones, in the order the merge produces them.
func scanAllVersions(sources []entrySource) []Entry {
	m := newMergeIterator(sources)
	var out []Entry
	for {
		e, ok := m.next()
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}
