package lsmkv

import (
	"testing"

	"github.com/nohashbrownsdb/lsmkv/record"
	"github.com/stretchr/testify/require"
)

func Test_BlockBuilder_RoundTrips(t *testing.T) {
	b := newBlockBuilder(4096)
	want := []record.Entry{
		{Key: []byte("a"), SeqNum: 1, Kind: record.KindPut, Value: []byte("1")},
		{Key: []byte("b"), SeqNum: 2, Kind: record.KindPut, Value: []byte("2")},
		{Key: []byte("b"), SeqNum: 1, Kind: record.KindDelete},
		{Key: []byte("c"), SeqNum: 3, Kind: record.KindPut, Value: []byte("3")},
	}
	for _, e := range want {
		require.True(t, b.Fits(e))
		b.Append(e)
	}
	require.Equal(t, len(want), b.Len())

	got, err := decodeBlock(b.buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func Test_BlockBuilder_NeverSplitsAKeyGroup(t *testing.T) {
	b := newBlockBuilder(0)
	first := record.Entry{Key: []byte("k"), SeqNum: 2, Kind: record.KindPut, Value: []byte("v2")}
	require.True(t, b.Fits(first))
	b.Append(first)

	second := record.Entry{Key: []byte("k"), SeqNum: 1, Kind: record.KindPut, Value: []byte("v1")}
	require.True(t, b.Fits(second))
	b.Append(second)

	third := record.Entry{Key: []byte("z"), SeqNum: 1, Kind: record.KindPut, Value: []byte("v")}
	require.False(t, b.Fits(third))
}

func Test_BlockBuilder_Reset(t *testing.T) {
	b := newBlockBuilder(4096)
	b.Append(record.Entry{Key: []byte("a"), SeqNum: 1, Kind: record.KindPut, Value: []byte("1")})
	b.Reset()
	require.Equal(t, 0, b.Len())
	require.Equal(t, 0, b.buf.Len())
}
