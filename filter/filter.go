package filter

// Filter lets an SSTable writer build a membership sidecar and lets a
// reader consult it before doing any I/O for a key that cannot be
// present.
type Filter interface {
	Add(key []byte)                // add key to the filter's working set
	Exist(bitmap, key []byte) bool // true if key may be present in bitmap
	Hash() []byte                  // serialize the working set into a bitmap
	Reset()                        // clear the working set for reuse
	KeyLen() int                   // number of keys added since the last Reset
}
