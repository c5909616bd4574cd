package bufferpool

import (
	"fmt"
	"testing"

	"github.com/nohashbrownsdb/lsmkv/page"
	"github.com/stretchr/testify/require"
)

// fakeSource is an in-memory Source+Sink double standing in for a
// *page.File, so eviction write-back and FlushAll can be exercised
// without touching disk.
type fakeSource struct {
	pages   map[uint64]*page.Page
	writes  int
	readErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{pages: make(map[uint64]*page.Page)}
}

func (s *fakeSource) ReadPage(id uint64) (*page.Page, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	p, ok := s.pages[id]
	if !ok {
		return nil, fmt.Errorf("fakeSource: no page %d", id)
	}
	return p, nil
}

func (s *fakeSource) WritePage(p *page.Page) error {
	s.writes++
	s.pages[p.ID] = p
	return nil
}

func Test_Pool_PinCachesAndReusesSameFrame(t *testing.T) {
	src := newFakeSource()
	src.pages[1] = &page.Page{ID: 1, Kind: page.KindData, Payload: []byte("a")}

	pool := New(4)
	h1, err := pool.Pin(src, 1)
	require.NoError(t, err)
	h2, err := pool.Pin(src, 1)
	require.NoError(t, err)
	require.Equal(t, h1.Page(), h2.Page())

	pool.Unpin(h1, false)
	pool.Unpin(h2, false)
}

func Test_Pool_EvictsWhenOverCapacity(t *testing.T) {
	src := newFakeSource()
	for i := uint64(1); i <= 3; i++ {
		src.pages[i] = &page.Page{ID: i, Kind: page.KindData, Payload: []byte{byte(i)}}
	}

	pool := New(2)
	h1, err := pool.Pin(src, 1)
	require.NoError(t, err)
	pool.Unpin(h1, false)

	h2, err := pool.Pin(src, 2)
	require.NoError(t, err)
	pool.Unpin(h2, false)

	// A third distinct page forces an eviction since capacity is 2 and
	// neither prior frame is pinned.
	h3, err := pool.Pin(src, 3)
	require.NoError(t, err)
	pool.Unpin(h3, false)
}

func Test_Pool_PinnedFrameSurvivesEviction(t *testing.T) {
	src := newFakeSource()
	for i := uint64(1); i <= 3; i++ {
		src.pages[i] = &page.Page{ID: i, Kind: page.KindData, Payload: []byte{byte(i)}}
	}

	pool := New(2)
	h1, err := pool.Pin(src, 1)
	require.NoError(t, err)
	defer pool.Unpin(h1, false)

	h2, err := pool.Pin(src, 2)
	require.NoError(t, err)
	pool.Unpin(h2, false)

	h3, err := pool.Pin(src, 3)
	require.NoError(t, err)
	pool.Unpin(h3, false)

	// h1's page is still pinned, so it must not have been evicted.
	require.Equal(t, uint64(1), h1.Page().ID)
}

func Test_Pool_DirtyFrameIsWrittenBackOnEviction(t *testing.T) {
	src := newFakeSource()
	for i := uint64(1); i <= 3; i++ {
		src.pages[i] = &page.Page{ID: i, Kind: page.KindData, Payload: []byte{byte(i)}}
	}

	pool := New(2)
	h1, err := pool.Pin(src, 1)
	require.NoError(t, err)
	pool.Unpin(h1, true) // mark dirty

	h2, err := pool.Pin(src, 2)
	require.NoError(t, err)
	pool.Unpin(h2, false)

	require.Equal(t, 0, src.writes)

	// Forces eviction of frame 1 (unpinned, dirty) or frame 2.
	h3, err := pool.Pin(src, 3)
	require.NoError(t, err)
	pool.Unpin(h3, false)

	require.Equal(t, 1, src.writes)
}

func Test_Pool_FlushAllWritesBackDirtyFramesWithoutEvicting(t *testing.T) {
	src := newFakeSource()
	src.pages[1] = &page.Page{ID: 1, Kind: page.KindData, Payload: []byte("a")}
	src.pages[2] = &page.Page{ID: 2, Kind: page.KindData, Payload: []byte("b")}

	pool := New(4)
	h1, err := pool.Pin(src, 1)
	require.NoError(t, err)
	pool.Unpin(h1, true)

	h2, err := pool.Pin(src, 2)
	require.NoError(t, err)
	pool.Unpin(h2, false)

	require.NoError(t, pool.FlushAll())
	require.Equal(t, 1, src.writes)

	// A second FlushAll is a no-op: the dirty bit was cleared.
	require.NoError(t, pool.FlushAll())
	require.Equal(t, 1, src.writes)
}

func Test_Pool_InvalidateDropsFramesForSource(t *testing.T) {
	src := newFakeSource()
	src.pages[1] = &page.Page{ID: 1, Kind: page.KindData, Payload: []byte("a")}

	pool := New(4)
	h1, err := pool.Pin(src, 1)
	require.NoError(t, err)
	pool.Unpin(h1, false)

	pool.Invalidate(src)

	// After invalidation the page must be re-fetched from the source.
	_, err = pool.Pin(src, 1)
	require.NoError(t, err)
}
