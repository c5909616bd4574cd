package lsmkv

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

// manifestMagic identifies a MANIFEST file; it is the first 8 bytes of
// every manifest this package writes.
var manifestMagic = [8]byte{'L', 'S', 'M', 'K', 'V', 'M', 'F', '1'}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const manifestFormatVersion = 1
const manifestFileName = "MANIFEST"

// manifest is the durable, single source of truth for which SSTables are
// live and in what (chronological, newest-last) order, plus the page size
// the database was created with and the next sequence number to assign.
// Readers must never derive the live SSTable set by scanning the directory;
// only the manifest's atomic swap makes a flush commit crash-consistent.
type manifest struct {
	PageSize    uint32
	NextSeqNum  uint64
	SSTableIDs  []uint64
}

func manifestPath(dataDir string) string {
	return filepath.Join(dataDir, manifestFileName)
}

// loadManifest reads an existing manifest, or returns a fresh empty one (not
// yet persisted) if none exists.
func loadManifest(dataDir string, pageSize int) (*manifest, error) {
	path := manifestPath(dataDir)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &manifest{PageSize: uint32(pageSize), NextSeqNum: 1}, nil
	}
	if err != nil {
		return nil, ioError(err)
	}

	const minLen = 8 + 4 + 4 + 8 + 4 + 4 // magic+version+pagesize+seq+count+crc
	if len(raw) < minLen {
		return nil, corruptionError(path, 0, "manifest shorter than fixed header")
	}
	if string(raw[0:8]) != string(manifestMagic[:]) {
		return nil, corruptionError(path, 0, "bad manifest magic")
	}

	sum := crc32.Checksum(raw[:len(raw)-4], castagnoli)
	wantSum := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if sum != wantSum {
		return nil, corruptionError(path, int64(len(raw)-4), "manifest checksum mismatch")
	}

	off := 8
	version := binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	if version != manifestFormatVersion {
		return nil, corruptionError(path, int64(off-4), fmt.Sprintf("unsupported manifest format version %d", version))
	}

	m := &manifest{}
	m.PageSize = binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	m.NextSeqNum = binary.LittleEndian.Uint64(raw[off : off+8])
	off += 8
	count := binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4

	if off+int(count)*8+4 != len(raw) {
		return nil, corruptionError(path, int64(off), "manifest SSTable count does not match file length")
	}

	m.SSTableIDs = make([]uint64, count)
	for i := range m.SSTableIDs {
		m.SSTableIDs[i] = binary.LittleEndian.Uint64(raw[off : off+8])
		off += 8
	}

	if int(m.PageSize) != pageSize {
		return nil, corruptionError(path, 8, fmt.Sprintf("manifest page size %d does not match configured %d", m.PageSize, pageSize))
	}

	return m, nil
}

// save durably persists m via write-temp-file, fsync, rename, fsync parent
// directory — the atomic swap that makes a flush commit crash-consistent.
func (m *manifest) save(dataDir string) error {
	buf := make([]byte, 0, 8+4+4+8+4+len(m.SSTableIDs)*8+4)
	buf = append(buf, manifestMagic[:]...)

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], manifestFormatVersion)
	buf = append(buf, scratch[:4]...)
	binary.LittleEndian.PutUint32(scratch[:4], m.PageSize)
	buf = append(buf, scratch[:4]...)
	binary.LittleEndian.PutUint64(scratch[:8], m.NextSeqNum)
	buf = append(buf, scratch[:8]...)
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(m.SSTableIDs)))
	buf = append(buf, scratch[:4]...)
	for _, id := range m.SSTableIDs {
		binary.LittleEndian.PutUint64(scratch[:8], id)
		buf = append(buf, scratch[:8]...)
	}

	sum := crc32.Checksum(buf, castagnoli)
	binary.LittleEndian.PutUint32(scratch[:4], sum)
	buf = append(buf, scratch[:4]...)

	path := manifestPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return ioError(err)
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY, 0644)
	if err != nil {
		return ioError(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ioError(err)
	}
	if err := f.Close(); err != nil {
		return ioError(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ioError(err)
	}
	if err := syncDir(dataDir); err != nil {
		return err
	}
	return nil
}

// syncDir fsyncs a directory so a preceding rename within it is durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return ioError(err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return ioError(err)
	}
	return nil
}
