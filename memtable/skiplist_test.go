package memtable

import (
	"testing"

	"github.com/nohashbrownsdb/lsmkv/record"
	"github.com/stretchr/testify/assert"
)

func put(s MemTable, seq uint64, key, value string) {
	s.Insert(record.Entry{Key: []byte(key), SeqNum: seq, Kind: record.KindPut, Value: []byte(value)})
}

func del(s MemTable, seq uint64, key string) {
	s.Insert(record.Entry{Key: []byte(key), SeqNum: seq, Kind: record.KindDelete})
}

func Test_Skiplist_LatestWins(t *testing.T) {
	s := NewSkiplist()
	put(s, 1, "a", "b")
	put(s, 2, "a", "c")
	put(s, 1, "ab", "aa")
	put(s, 1, "abc", "aaa")
	put(s, 1, "bc", "bbb")
	put(s, 2, "ab", "bb")

	e, ok := s.GetLatest([]byte("a"))
	assert.True(t, ok)
	assert.Equal(t, []byte("c"), e.Value)

	e, ok = s.GetLatest([]byte("ab"))
	assert.True(t, ok)
	assert.Equal(t, []byte("bb"), e.Value)

	e, ok = s.GetLatest([]byte("abc"))
	assert.True(t, ok)
	assert.Equal(t, []byte("aaa"), e.Value)

	_, ok = s.GetLatest([]byte("bcd"))
	assert.False(t, ok)

	all := s.All()
	assert.Equal(t, 6, len(all))
	assert.Equal(t, []byte("a"), all[0].Key)
	assert.Equal(t, uint64(2), all[0].SeqNum)
}

func Test_Skiplist_GetAllOrdersNewestFirst(t *testing.T) {
	s := NewSkiplist()
	put(s, 1, "k", "v1")
	put(s, 2, "k", "v2")
	del(s, 3, "k")

	versions := s.GetAll([]byte("k"))
	assert.Equal(t, 3, len(versions))
	assert.Equal(t, uint64(3), versions[0].SeqNum)
	assert.True(t, versions[0].IsTombstone())
	assert.Equal(t, uint64(2), versions[1].SeqNum)
	assert.Equal(t, uint64(1), versions[2].SeqNum)
}

func Test_Skiplist_SizeBytesGrows(t *testing.T) {
	s := NewSkiplist()
	assert.Equal(t, uint64(0), s.SizeBytes())
	put(s, 1, "a", "bb")
	assert.True(t, s.SizeBytes() > 0)
}
