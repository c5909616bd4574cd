package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Footer_RoundTrips(t *testing.T) {
	want := footer{
		PageSize:          4096,
		IndexPageCount:    2,
		FirstIndexPageID:  5,
		FilterPageCount:   1,
		FirstFilterPageID: 7,
		SmallestKey:       []byte("a"),
		LargestKey:        []byte("zzz"),
		MinSeqNum:         1,
		MaxSeqNum:         99,
		EntryCount:        42,
	}
	got, err := decodeFooter(encodeFooter(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func Test_Footer_RejectsBadMagic(t *testing.T) {
	buf := encodeFooter(footer{PageSize: 4096})
	// The magic constant is the trailer's first byte, at the tail of the
	// payload — not the head — per spec.md §4.5.
	buf[len(buf)-footerTrailerLen] ^= 0xFF
	_, err := decodeFooter(buf)
	require.Error(t, err)
}

func Test_IndexPage_RoundTrips(t *testing.T) {
	want := []indexEntry{
		{FirstKey: []byte("a"), PageID: 0},
		{FirstKey: []byte("m"), PageID: 3},
		{FirstKey: []byte("z"), PageID: 9},
	}
	var buf []byte
	for _, e := range want {
		buf = appendIndexEntry(buf, e)
	}
	got, err := decodeIndexPage(buf)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
