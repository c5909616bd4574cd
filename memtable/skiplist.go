package memtable

import (
	"bytes"
	"math/rand"
	"time"

	"github.com/nohashbrownsdb/lsmkv/record"
)

// entryOverhead approximates the bookkeeping cost of one entry beyond its
// raw key/value bytes (skiplist node pointers, seq_num, kind tag).
const entryOverhead = 24

// Skiplist is an unlocked, ordered multi-map. Unlike a plain key/value
// skiplist it keeps every version of a key, ordered (key ascending, seq_num
// descending) so GetLatest is always the first node encountered for a key
// and GetAll is a contiguous run starting there.
type Skiplist struct {
	head  *skipNode
	count int
	size  uint64
}

type skipNode struct {
	nexts []*skipNode
	entry record.Entry
}

// NewSkiplist constructs an empty multi-version memtable.
func NewSkiplist() MemTable {
	return &Skiplist{head: &skipNode{}}
}

// less orders nodes by (key ascending, seq_num descending): for equal keys
// the higher sequence number sorts first.
func less(a, b record.Entry) bool {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.SeqNum > b.SeqNum
}

func (s *Skiplist) Insert(e record.Entry) {
	for n := s.seekFirst(e.Key); n != nil && bytes.Equal(n.entry.Key, e.Key); n = n.nexts[0] {
		if n.entry.SeqNum == e.SeqNum {
			return
		}
	}
	s.size += uint64(len(e.Key) + len(e.Value) + entryOverhead)
	s.count++

	height := roll()
	if len(s.head.nexts) < height {
		s.head.nexts = append(s.head.nexts, make([]*skipNode, height-len(s.head.nexts))...)
	}

	newNode := &skipNode{nexts: make([]*skipNode, height), entry: e}
	move := s.head
	for level := height - 1; level >= 0; level-- {
		for move.nexts[level] != nil && less(move.nexts[level].entry, e) {
			move = move.nexts[level]
		}
		newNode.nexts[level] = move.nexts[level]
		move.nexts[level] = newNode
	}
}

// GetLatest returns the first node whose key matches, which — by
// construction — carries the largest seq_num for that key.
func (s *Skiplist) GetLatest(key []byte) (record.Entry, bool) {
	node := s.seekFirst(key)
	if node == nil {
		return record.Entry{}, false
	}
	return node.entry, true
}

func (s *Skiplist) GetAll(key []byte) []record.Entry {
	node := s.seekFirst(key)
	var out []record.Entry
	for node != nil && bytes.Equal(node.entry.Key, key) {
		out = append(out, node.entry)
		node = node.nexts[0]
	}
	return out
}

// seekFirst returns the first node (highest seq_num) for key, or nil.
func (s *Skiplist) seekFirst(key []byte) *skipNode {
	if len(s.head.nexts) == 0 {
		return nil
	}
	move := s.head
	for level := len(s.head.nexts) - 1; level >= 0; level-- {
		for move.nexts[level] != nil && bytes.Compare(move.nexts[level].entry.Key, key) < 0 {
			move = move.nexts[level]
		}
	}
	if move.nexts[0] != nil && bytes.Equal(move.nexts[0].entry.Key, key) {
		return move.nexts[0]
	}
	return nil
}

func (s *Skiplist) All() []record.Entry {
	if len(s.head.nexts) == 0 {
		return nil
	}
	out := make([]record.Entry, 0, s.count)
	for move := s.head.nexts[0]; move != nil; move = move.nexts[0] {
		out = append(out, move.entry)
	}
	return out
}

func (s *Skiplist) SizeBytes() uint64 {
	return s.size
}

// roll picks a node's height: minimum 1, each extra level half as likely as
// the last.
func roll() int {
	height := 1
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for r.Intn(2) == 1 {
		height++
	}
	return height
}
