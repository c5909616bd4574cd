package lsmkv

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, opts ...Option) *Config {
	dir := t.TempDir()
	opts = append([]Option{WithFsyncOnWrite(false)}, opts...)
	conf, err := NewConfig(dir, opts...)
	require.NoError(t, err)
	return conf
}

func Test_Tree_PutGetDelete(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("a"), []byte("1")))
	v, ok, err := tree.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, tree.Delete([]byte("a")))
	_, ok, err = tree.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = tree.Get([]byte("never-written"))
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_Tree_PutRejectsOversizedValueWithoutCorruptingState(t *testing.T) {
	conf := testConfig(t, WithPageSize(512))
	tree, err := Open(conf)
	require.NoError(t, err)
	defer tree.Close()

	oversized := make([]byte, 1024)
	err = tree.Put([]byte("k"), oversized)
	require.Error(t, err)
	var lsmErr *Error
	require.ErrorAs(t, err, &lsmErr)
	require.Equal(t, KindInvalidArgument, lsmErr.Kind)

	// The engine must still be usable: rejection must not have flipped it
	// into the errored state or left a partial write behind.
	require.NoError(t, tree.Put([]byte("k"), []byte("small")))
	v, ok, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("small"), v)
}

func Test_Tree_PutRejectsVersionGroupGrowthWithoutCorruptingState(t *testing.T) {
	conf := testConfig(t, WithPageSize(512))
	tree, err := Open(conf)
	require.NoError(t, err)
	defer tree.Close()

	// Each Put below encodes to 1+8+4+1+4+50 = 68 bytes (record.EncodedLen),
	// and blockBuilder.Fits never splits one key's versions across a block
	// boundary, so the whole group must fit in a single page's 495-byte
	// payload (page.MaxPayload(512)). 7 versions land at 476 bytes and fit;
	// the 8th would reach 544 and must be rejected before it ever reaches
	// the WAL or memtable.
	value := make([]byte, 50)
	for i := 0; i < 7; i++ {
		require.NoError(t, tree.Put([]byte("k"), value))
	}

	err = tree.Put([]byte("k"), value)
	require.Error(t, err)
	var lsmErr *Error
	require.ErrorAs(t, err, &lsmErr)
	require.Equal(t, KindInvalidArgument, lsmErr.Kind)

	// The rejection must not have flipped the engine into the errored
	// state, nor corrupted the group already accumulated for "k".
	require.NoError(t, tree.Put([]byte("other"), []byte("small")))
	v, ok, err := tree.Get([]byte("other"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("small"), v)
}

func Test_Tree_MultiVersionGetAllIncludesTombstones(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("k"), []byte("v1")))
	require.NoError(t, tree.Put([]byte("k"), []byte("v2")))
	require.NoError(t, tree.Delete([]byte("k")))
	require.NoError(t, tree.Put([]byte("k"), []byte("v3")))

	versions, err := tree.GetAll([]byte("k"))
	require.NoError(t, err)
	require.Len(t, versions, 4)
	require.Equal(t, []byte("v3"), versions[0].Value)
	require.True(t, versions[1].IsTombstone())
	require.Equal(t, []byte("v2"), versions[2].Value)
	require.Equal(t, []byte("v1"), versions[3].Value)

	v, ok, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v3"), v)
}

func Test_Tree_FlushSurvivesCloseAndReopen(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		val := []byte(fmt.Sprintf("val-%03d", i))
		require.NoError(t, tree.Put(key, val))
	}
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	reopened, err := Open(conf)
	require.NoError(t, err)
	defer reopened.Close()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		want := []byte(fmt.Sprintf("val-%03d", i))
		got, ok, err := reopened.Get(key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func Test_Tree_SeqNumMonotonicAcrossRestart(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)

	require.NoError(t, tree.Put([]byte("a"), []byte("1")))
	require.NoError(t, tree.Put([]byte("b"), []byte("2")))
	require.NoError(t, tree.Close())

	reopened, err := Open(conf)
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Put([]byte("c"), []byte("3")))

	versions, err := reopened.GetAll([]byte("a"))
	require.NoError(t, err)
	aSeq := versions[0].SeqNum
	versions, err = reopened.GetAll([]byte("c"))
	require.NoError(t, err)
	cSeq := versions[0].SeqNum
	require.Greater(t, cSeq, aSeq)
}

func Test_Tree_ScanLiveDedupsAndSkipsTombstones(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("a"), []byte("1")))
	require.NoError(t, tree.Put([]byte("b"), []byte("2")))
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Put([]byte("a"), []byte("1-new")))
	require.NoError(t, tree.Delete([]byte("b")))
	require.NoError(t, tree.Put([]byte("c"), []byte("3")))

	live, err := tree.ScanLive()
	require.NoError(t, err)
	require.Equal(t, []KV{
		{Key: []byte("a"), Value: []byte("1-new")},
		{Key: []byte("c"), Value: []byte("3")},
	}, live)
}

func Test_Tree_ScanAllVersionsAcrossMemtableAndSSTable(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("a"), []byte("1")))
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Put([]byte("a"), []byte("2")))

	all, err := tree.ScanAllVersions()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []byte("2"), all[0].Value)
	require.Equal(t, []byte("1"), all[1].Value)
}

func Test_Tree_WriteAfterCloseReturnsErrNotOpen(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)
	require.NoError(t, tree.Close())

	err = tree.Put([]byte("a"), []byte("1"))
	require.ErrorIs(t, err, ErrNotOpen)

	_, _, err = tree.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotOpen)
}

func Test_Tree_RecoverCleansUpOrphanSSTableLeftByCrashBeforeManifestCommit(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)

	require.NoError(t, tree.Put([]byte("a"), []byte("1")))
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	// Simulate a crash between C1 (sstable written) and C3 (manifest
	// commit): drop an extra sst file the manifest never learned about.
	orphanPath := filepath.Join(conf.DataDir, "sst-999.dat")
	require.NoError(t, os.WriteFile(orphanPath, []byte("not a real sstable"), 0644))

	reopened, err := Open(conf)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = os.Stat(orphanPath)
	require.True(t, os.IsNotExist(err))

	v, ok, err := reopened.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func Test_Tree_RecoverReplaysWALLeftUnflushed(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)

	require.NoError(t, tree.Put([]byte("unflushed"), []byte("still-here")))
	// No Flush, no clean Close: only the WAL writer is closed, as if the
	// process had died right after the append.
	require.NoError(t, tree.walWriter.Close())

	reopened, err := Open(conf)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get([]byte("unflushed"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("still-here"), v)
}

func Test_Tree_Compact(t *testing.T) {
	conf := testConfig(t)
	tree, err := Open(conf)
	require.NoError(t, err)
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("a"), []byte("1")))
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Put([]byte("a"), []byte("2")))
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Put([]byte("b"), []byte("3")))
	require.NoError(t, tree.Flush())

	require.NoError(t, tree.Compact())
	require.Len(t, tree.sstables, 1)

	v, ok, err := tree.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)

	v, ok, err = tree.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("3"), v)
}

func Test_Tree_MemtableSizeThresholdZeroFlushesEveryWrite(t *testing.T) {
	conf := testConfig(t, WithMemtableSizeThreshold(0))
	tree, err := Open(conf)
	require.NoError(t, err)
	defer tree.Close()

	require.NoError(t, tree.Put([]byte("a"), []byte("1")))
	require.Len(t, tree.sstables, 1)
	require.NoError(t, tree.Put([]byte("b"), []byte("2")))
	require.Len(t, tree.sstables, 2)
}
