// Package format implements the on-disk stitch container layout.
//
// A stitch file is an arbitrary prefix (typically an executable) followed
// by appended resources, an index describing them, and a fixed-size tail
// that locates the index:
//
//	file     := original-bytes resource* index tail
//	resource := magic(u64be) payload-bytes
//	index    := count(u64be) entry*
//	entry    := name-len(u64be) name type(u8) offset(u64be) length(u64be) scratch(8B)
//	tail     := index-offset(u64be) version(u8) eof-magic(u64be)
//
// All multi-byte fields are big-endian. The tail is always the final
// TailSize bytes of a conforming file.
package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ResourceMagic precedes every resource payload. It is not counted in the
// entry's recorded length.
const ResourceMagic uint64 = 0x18c767a11ea80843

// EOFMagic terminates every conforming file.
const EOFMagic uint64 = 0xa2a7fdfa0533438f

// Version is the current container format version.
const Version byte = 1

const (
	// TailSize is the fixed byte length of the tail record.
	TailSize = 8 + 1 + 8

	// MagicSize is the byte length of the resource magic.
	MagicSize = 8

	// ScratchSize is the byte length of an entry's scratch field.
	ScratchSize = 8

	// entryFixedSize is the size of an entry minus its name bytes.
	entryFixedSize = 8 + 1 + 8 + 8 + ScratchSize
)

// TypeBlob is the only resource type defined by format version 1.
// Unknown types remain skippable because length is a plain byte count.
const TypeBlob byte = 0

// Codec sentinel errors. Callers map these onto their own taxonomy.
var (
	// ErrBadEOFMagic is returned when the trailing magic does not match.
	ErrBadEOFMagic = errors.New("format: eof magic mismatch")

	// ErrBadResourceMagic is returned when a payload's leading magic does
	// not match, meaning the index and payloads have drifted out of sync.
	ErrBadResourceMagic = errors.New("format: resource magic mismatch")

	// ErrTruncatedIndex is returned when the index region ends before the
	// declared entries do.
	ErrTruncatedIndex = errors.New("format: truncated index")
)

// Tail is the decoded form of the fixed trailer.
//
// IndexOffset of zero means the file carries no resources.
type Tail struct {
	IndexOffset uint64
	Version     byte
}

// AppendTail appends the encoded tail to b and returns the result.
func AppendTail(b []byte, t Tail) []byte {
	b = binary.BigEndian.AppendUint64(b, t.IndexOffset)
	b = append(b, t.Version)
	return binary.BigEndian.AppendUint64(b, EOFMagic)
}

// ParseTail decodes the final TailSize bytes of a file.
//
// The eof magic is validated; the version is not, so callers can report
// unsupported versions distinctly from corrupt files.
func ParseTail(b []byte) (Tail, error) {
	if len(b) != TailSize {
		return Tail{}, fmt.Errorf("format: tail must be %d bytes, got %d", TailSize, len(b))
	}
	if binary.BigEndian.Uint64(b[9:]) != EOFMagic {
		return Tail{}, ErrBadEOFMagic
	}
	return Tail{
		IndexOffset: binary.BigEndian.Uint64(b[:8]),
		Version:     b[8],
	}, nil
}

// Entry describes one appended resource.
//
// Offset is absolute from the start of the file and points at the resource
// magic; the payload begins MagicSize bytes later. Length counts payload
// bytes only.
type Entry struct {
	Name    string
	Type    byte
	Offset  uint64
	Length  uint64
	Scratch [ScratchSize]byte
}

// PayloadOffset returns the absolute offset of the entry's first payload byte.
func (e *Entry) PayloadOffset() uint64 {
	return e.Offset + MagicSize
}

// WriteIndex writes the index region (count followed by each entry in
// order) to w and returns the number of bytes written.
func WriteIndex(w io.Writer, entries []Entry) (int64, error) {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(len(entries)))
	n, err := w.Write(scratch[:])
	written := int64(n)
	if err != nil {
		return written, err
	}

	for i := range entries {
		e := &entries[i]
		buf := make([]byte, 0, entryFixedSize+len(e.Name))
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(e.Name)))
		buf = append(buf, e.Name...)
		buf = append(buf, e.Type)
		buf = binary.BigEndian.AppendUint64(buf, e.Offset)
		buf = binary.BigEndian.AppendUint64(buf, e.Length)
		buf = append(buf, e.Scratch[:]...)

		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ParseIndex decodes the index region from data, which must start at the
// index offset and may extend to the tail.
//
// Overruns within data return ErrTruncatedIndex; the caller decides how a
// short data buffer itself is classified.
func ParseIndex(data []byte) ([]Entry, error) {
	if len(data) < 8 {
		return nil, ErrTruncatedIndex
	}
	count := binary.BigEndian.Uint64(data[:8])
	data = data[8:]

	// Each entry occupies at least entryFixedSize bytes, which bounds a
	// plausible count before any allocation happens.
	if count > uint64(len(data))/entryFixedSize {
		return nil, ErrTruncatedIndex
	}

	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(data) < 8 {
			return nil, ErrTruncatedIndex
		}
		nameLen := binary.BigEndian.Uint64(data[:8])
		data = data[8:]
		if nameLen > uint64(len(data)) {
			return nil, ErrTruncatedIndex
		}
		name := string(data[:nameLen])
		data = data[nameLen:]

		if len(data) < entryFixedSize-8 {
			return nil, ErrTruncatedIndex
		}
		var e Entry
		e.Name = name
		e.Type = data[0]
		e.Offset = binary.BigEndian.Uint64(data[1:9])
		e.Length = binary.BigEndian.Uint64(data[9:17])
		copy(e.Scratch[:], data[17:17+ScratchSize])
		data = data[entryFixedSize-8:]

		entries = append(entries, e)
	}
	return entries, nil
}

// WriteResourceMagic writes the resource magic to w.
func WriteResourceMagic(w io.Writer) error {
	var buf [MagicSize]byte
	binary.BigEndian.PutUint64(buf[:], ResourceMagic)
	_, err := w.Write(buf[:])
	return err
}

// CheckResourceMagic validates the MagicSize bytes at off in r.
func CheckResourceMagic(r io.ReaderAt, off int64) error {
	var buf [MagicSize]byte
	if _, err := r.ReadAt(buf[:], off); err != nil {
		return err
	}
	if binary.BigEndian.Uint64(buf[:]) != ResourceMagic {
		return ErrBadResourceMagic
	}
	return nil
}
