package stitch

import "io"

// ResourceReader is a bounded, sequential view over one resource's payload.
//
// Reads are serviced as offset reads against the backing file, so multiple
// ResourceReaders over the same file, or interleaved Bytes calls, never
// corrupt each other's position. Reading past the payload returns io.EOF;
// bytes outside the resource are never exposed.
type ResourceReader struct {
	name string
	sr   *io.SectionReader
}

var (
	_ io.Reader   = (*ResourceReader)(nil)
	_ io.ReaderAt = (*ResourceReader)(nil)
)

// Read implements io.Reader.
func (r *ResourceReader) Read(p []byte) (int, error) {
	return r.sr.Read(p)
}

// ReadAt implements io.ReaderAt within the resource's payload window.
func (r *ResourceReader) ReadAt(p []byte, off int64) (int, error) {
	return r.sr.ReadAt(p, off)
}

// Size returns the total payload length in bytes.
func (r *ResourceReader) Size() int64 {
	return r.sr.Size()
}

// Name returns the resource's recorded name.
func (r *ResourceReader) Name() string {
	return r.name
}
