package lsmkv

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nohashbrownsdb/lsmkv/filter"
	"github.com/nohashbrownsdb/lsmkv/memtable"
)

const (
	defaultMemtableSizeThreshold = 4 * 1024 * 1024
	defaultBufferPoolFrames      = 1024
	defaultPageSize              = 4096
	minPageSize                  = 512

	// defaultFilterFalsePositiveRate sizes the default whole-table bloom
	// filter; see filter.NewBloomFilterForTable.
	defaultFilterFalsePositiveRate = 0.01
)

// walDirName is the subdirectory holding the active WAL file, mirroring the
// data-dir-plus-walfile-subdir layout.
const walDirName = "wal"

// Config aggregates every open-time and per-write tunable.
type Config struct {
	// DataDir is the directory the database lives in. Created if absent.
	DataDir string

	// MemtableSizeThreshold is the byte size at which a put/delete triggers
	// a flush. Zero forces a flush on every write.
	MemtableSizeThreshold uint64

	// BufferPoolFrames is the number of in-memory page frames shared by all
	// open SSTables.
	BufferPoolFrames int

	// PageSize is the fixed frame size in bytes. Applied only at database
	// creation; must be a power of two >= 512.
	PageSize int

	// FsyncOnWrite controls whether WAL appends are fsynced, not just
	// flushed. Disabling this is for tests only: it breaks durability
	// invariant 1.
	FsyncOnWrite bool

	Filter              filter.Filter
	MemTableConstructor memtable.Constructor

	// thresholdSet distinguishes "never touched, apply the default" from
	// "explicitly set to 0" (which forces a flush on every write).
	thresholdSet bool
}

// Option mutates a Config at construction time.
type Option func(*Config)

// NewConfig builds a Config for the database rooted at dir, applying opts
// over the defaults and ensuring dir (and its WAL subdirectory) exist.
func NewConfig(dir string, opts ...Option) (*Config, error) {
	c := &Config{DataDir: dir, FsyncOnWrite: true}
	for _, opt := range opts {
		opt(c)
	}
	repair(c)

	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := c.ensureDirs(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.PageSize < minPageSize {
		return invalidArgumentError(fmt.Sprintf("page size %d is below the minimum of %d", c.PageSize, minPageSize))
	}
	if c.PageSize&(c.PageSize-1) != 0 {
		return invalidArgumentError(fmt.Sprintf("page size %d is not a power of two", c.PageSize))
	}
	return nil
}

func (c *Config) ensureDirs() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return ioError(err)
	}
	if err := os.MkdirAll(c.walDir(), 0755); err != nil {
		return ioError(err)
	}
	return nil
}

func (c *Config) walDir() string {
	return filepath.Join(c.DataDir, walDirName)
}

// WithMemtableSizeThreshold sets the byte size at which a write triggers a
// flush. A threshold of 0 forces a flush on every write.
func WithMemtableSizeThreshold(bytes uint64) Option {
	return func(c *Config) {
		c.MemtableSizeThreshold = bytes
		c.thresholdSet = true
	}
}

// WithBufferPoolFrames sets the number of page frames the buffer pool
// holds.
func WithBufferPoolFrames(frames int) Option {
	return func(c *Config) { c.BufferPoolFrames = frames }
}

// WithPageSize sets the fixed page frame size. Only meaningful when
// creating a new database; changing it on an existing one is unsupported.
func WithPageSize(size int) Option {
	return func(c *Config) { c.PageSize = size }
}

// WithFsyncOnWrite controls whether WAL appends are fsynced. Disable only
// in tests.
func WithFsyncOnWrite(enabled bool) Option {
	return func(c *Config) { c.FsyncOnWrite = enabled }
}

// WithFilter injects a whole-table filter implementation. Defaults to the
// bloom filter in package filter.
func WithFilter(f filter.Filter) Option {
	return func(c *Config) { c.Filter = f }
}

// WithMemTableConstructor injects a memtable implementation. Defaults to
// the skiplist in package memtable.
func WithMemTableConstructor(ctor memtable.Constructor) Option {
	return func(c *Config) { c.MemTableConstructor = ctor }
}

func repair(c *Config) {
	if !c.thresholdSet {
		c.MemtableSizeThreshold = defaultMemtableSizeThreshold
	}
	if c.BufferPoolFrames <= 0 {
		c.BufferPoolFrames = defaultBufferPoolFrames
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.Filter == nil {
		c.Filter, _ = filter.NewBloomFilterForTable(defaultFilterFalsePositiveRate)
	}
	if c.MemTableConstructor == nil {
		c.MemTableConstructor = memtable.NewSkiplist
	}
}
