package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nohashbrownsdb/lsmkv/record"
	"github.com/stretchr/testify/require"
)

func TestWAL_WriteAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.wal")

	w, err := NewWriter(path, true)
	require.NoError(t, err)

	var want []record.Entry
	for i := 0; i < 100; i++ {
		e := record.Entry{Key: []byte{'a' + byte(i)}, SeqNum: uint64(i + 1), Kind: record.KindPut, Value: []byte{'b' + byte(i)}}
		require.NoError(t, w.Write(e))
		want = append(want, e)
	}
	require.NoError(t, w.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	result, err := r.Replay()
	require.NoError(t, err)
	require.Equal(t, int64(0), result.TornTailBytes)
	require.Equal(t, len(want), len(result.Entries))

	for i, e := range want {
		got := result.Entries[i]
		if !bytes.Equal(got.Key, e.Key) || !bytes.Equal(got.Value, e.Value) || got.SeqNum != e.SeqNum {
			t.Errorf("entry %d mismatch: got %+v, want %+v", i, got, e)
		}
	}
}

func TestWAL_TombstoneRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.wal")

	w, err := NewWriter(path, true)
	require.NoError(t, err)
	require.NoError(t, w.Write(record.Entry{Key: []byte("k"), SeqNum: 1, Kind: record.KindPut, Value: []byte("v")}))
	require.NoError(t, w.Write(record.Entry{Key: []byte("k"), SeqNum: 2, Kind: record.KindDelete}))
	require.NoError(t, w.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	result, err := r.Replay()
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	require.True(t, result.Entries[1].IsTombstone())
	require.Nil(t, result.Entries[1].Value)
}

func TestWAL_TornTailIsTruncatedNotReplayed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.wal")

	w, err := NewWriter(path, true)
	require.NoError(t, err)
	require.NoError(t, w.Write(record.Entry{Key: []byte("a"), SeqNum: 1, Kind: record.KindPut, Value: []byte("1")}))
	require.NoError(t, w.Write(record.Entry{Key: []byte("b"), SeqNum: 2, Kind: record.KindPut, Value: []byte("2")}))
	require.NoError(t, w.Close())

	// Simulate a torn write: append a few garbage bytes that look like the
	// start of a third record but never complete.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x09, 0x00, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fullSize, err := os.Stat(path)
	require.NoError(t, err)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	result, err := r.Replay()
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	require.Greater(t, result.TornTailBytes, int64(0))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, fullSize.Size()-result.TornTailBytes, info.Size())
}
