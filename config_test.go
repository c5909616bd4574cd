package lsmkv

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_NewConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	conf, err := NewConfig(dir)
	require.NoError(t, err)
	require.Equal(t, uint64(defaultMemtableSizeThreshold), conf.MemtableSizeThreshold)
	require.Equal(t, defaultBufferPoolFrames, conf.BufferPoolFrames)
	require.Equal(t, defaultPageSize, conf.PageSize)
	require.True(t, conf.FsyncOnWrite)
	require.NotNil(t, conf.Filter)
	require.NotNil(t, conf.MemTableConstructor)
}

func Test_NewConfig_MemtableSizeThresholdZeroIsRespected(t *testing.T) {
	dir := t.TempDir()
	conf, err := NewConfig(dir, WithMemtableSizeThreshold(0))
	require.NoError(t, err)
	require.Equal(t, uint64(0), conf.MemtableSizeThreshold)
}

func Test_NewConfig_RejectsPageSizeBelowMinimum(t *testing.T) {
	dir := t.TempDir()
	_, err := NewConfig(dir, WithPageSize(256))
	require.Error(t, err)
	var lsmErr *Error
	require.ErrorAs(t, err, &lsmErr)
	require.Equal(t, KindInvalidArgument, lsmErr.Kind)
}

func Test_NewConfig_RejectsNonPowerOfTwoPageSize(t *testing.T) {
	dir := t.TempDir()
	_, err := NewConfig(dir, WithPageSize(1500))
	require.Error(t, err)
	var lsmErr *Error
	require.ErrorAs(t, err, &lsmErr)
	require.Equal(t, KindInvalidArgument, lsmErr.Kind)
}

func Test_NewConfig_CreatesDataAndWALDirs(t *testing.T) {
	dir := t.TempDir()
	conf, err := NewConfig(dir)
	require.NoError(t, err)

	fi, err := os.Stat(conf.DataDir)
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	fi, err = os.Stat(conf.walDir())
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}
