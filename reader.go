package stitch

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/stitchkit/stitch/internal/format"
)

// Reader serves resources appended to a file.
//
// Construction parses the tail and the full index eagerly; every later
// lookup is served from that parsed state plus direct reads of the backing
// file. Resource reads go through io.ReaderAt and are safe for concurrent
// use after construction. The one-shot diagnostic slot is not synchronized;
// callers that read it must serialize access.
type Reader struct {
	diag
	file    *os.File
	size    int64
	path    string
	tail    format.Tail
	entries []format.Entry
	cache   Cache
	group   singleflight.Group
	logger  *slog.Logger
}

// OpenReader opens path and parses its tail and index.
//
// Files shorter than the tail or with a mismatched eof magic fail with
// ErrInvalidExecutableFormat. A tail index offset of zero yields a ready
// reader with zero resources.
func OpenReader(path string, opts ...ReaderOption) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errPath(KindCouldNotOpenInputFile, path, err)
	}

	r := &Reader{file: f, path: path}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.parse(); err != nil {
		f.Close()
		return nil, err
	}
	r.log().Debug("reader open", "path", path, "resources", len(r.entries), "version", r.tail.Version)
	return r, nil
}

// OpenSelf opens the currently running executable for reading. This is how
// a program retrieves resources stitched onto itself.
func OpenSelf(opts ...ReaderOption) (*Reader, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, errPath(KindCouldNotOpenInputFile, "", err)
	}
	return OpenReader(path, opts...)
}

// parse reads the tail and, when present, the index into memory.
func (r *Reader) parse() error {
	info, err := r.file.Stat()
	if err != nil {
		return &Error{Kind: KindIoError, Path: r.path, Detail: "stat file", Err: err}
	}
	r.size = info.Size()
	if r.size < format.TailSize {
		return &Error{Kind: KindInvalidExecutableFormat, Path: r.path,
			Detail: "file is too short to carry a tail"}
	}

	var tailBuf [format.TailSize]byte
	if _, err := r.file.ReadAt(tailBuf[:], r.size-format.TailSize); err != nil {
		return &Error{Kind: KindIoError, Path: r.path, Detail: "reading tail", Err: err}
	}
	tail, err := format.ParseTail(tailBuf[:])
	if err != nil {
		return &Error{Kind: KindInvalidExecutableFormat, Path: r.path,
			Detail: "parsing tail", Err: err}
	}
	r.tail = tail

	if tail.IndexOffset == 0 {
		return nil
	}
	indexEnd := uint64(r.size) - format.TailSize //nolint:gosec // size >= TailSize
	if tail.IndexOffset > indexEnd {
		return &Error{Kind: KindInvalidExecutableFormat, Path: r.path,
			Detail: "index offset points past the end of the file"}
	}

	indexData := make([]byte, indexEnd-tail.IndexOffset)
	if _, err := r.file.ReadAt(indexData, int64(tail.IndexOffset)); err != nil { //nolint:gosec // bounded by size
		return &Error{Kind: KindIoError, Path: r.path, Detail: "reading index", Err: err}
	}
	entries, err := format.ParseIndex(indexData)
	if err != nil {
		return &Error{Kind: KindInvalidExecutableFormat, Path: r.path,
			Detail: "parsing index", Err: err}
	}

	// Every payload precedes the index, so each magic plus payload must
	// fit below the index offset. An entry claiming otherwise is corrupt,
	// and its length must never reach an allocation. Comparisons only, so
	// hostile values near MaxUint64 cannot overflow.
	limit := tail.IndexOffset
	for i := range entries {
		e := &entries[i]
		if e.Offset > limit ||
			limit-e.Offset < format.MagicSize ||
			e.Length > limit-e.Offset-format.MagicSize {
			return &Error{Kind: KindInvalidExecutableFormat, Path: r.path,
				Detail: "resource " + strconv.Itoa(i) + " extends past the start of the index"}
		}
	}
	r.entries = entries
	return nil
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Reader) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.logger
}

// Count returns the number of resources in the file.
func (r *Reader) Count() int {
	r.reset()
	return len(r.entries)
}

// FormatVersion returns the container format version from the tail.
func (r *Reader) FormatVersion() uint8 {
	r.reset()
	return r.tail.Version
}

// Index returns the index of the first resource with the given name, in
// add order. Duplicated names resolve to the earliest entry.
func (r *Reader) Index(name string) (int, error) {
	r.reset()
	for i := range r.entries {
		if r.entries[i].Name == name {
			return i, nil
		}
	}
	return 0, r.fail(errNameNotFound(name))
}

// Name returns the name recorded for the resource at index.
func (r *Reader) Name(index int) (string, error) {
	r.reset()
	if index < 0 || index >= len(r.entries) {
		return "", r.fail(errIndexRange(index, len(r.entries)))
	}
	return r.entries[index].Name, nil
}

// Size returns the payload byte length of the resource at index.
func (r *Reader) Size(index int) (uint64, error) {
	r.reset()
	if index < 0 || index >= len(r.entries) {
		return 0, r.fail(errIndexRange(index, len(r.entries)))
	}
	return r.entries[index].Length, nil
}

// Scratch returns the 8 scratch bytes recorded for the resource at index.
// Resources never tagged read back as all zeros.
func (r *Reader) Scratch(index int) ([ScratchSize]byte, error) {
	r.reset()
	if index < 0 || index >= len(r.entries) {
		return [ScratchSize]byte{}, r.fail(errIndexRange(index, len(r.entries)))
	}
	return r.entries[index].Scratch, nil
}

// Bytes reads the full payload of the resource at index into memory.
//
// The resource magic at the recorded offset is validated first; a mismatch
// means the index and payloads have drifted and fails with
// ErrInvalidExecutableFormat. When a cache is configured, concurrent reads
// of the same resource are deduplicated.
func (r *Reader) Bytes(index int) ([]byte, error) {
	r.reset()
	if index < 0 || index >= len(r.entries) {
		return nil, r.fail(errIndexRange(index, len(r.entries)))
	}
	entry := &r.entries[index]

	if r.cache == nil {
		data, err := r.readPayload(entry)
		if err != nil {
			return nil, r.fail(err)
		}
		return data, nil
	}

	key := entry.Offset
	if data, ok := r.cache.Get(key); ok {
		r.log().Debug("resource cache hit", "index", index)
		return append([]byte(nil), data...), nil
	}

	result, err, _ := r.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		if data, ok := r.cache.Get(key); ok {
			return data, nil
		}
		data, err := r.readPayload(entry)
		if err != nil {
			return nil, err
		}
		_ = r.cache.Put(key, data) //nolint:errcheck // caching is opportunistic
		return data, nil
	})
	if err != nil {
		return nil, r.fail(err)
	}
	return append([]byte(nil), result.([]byte)...), nil //nolint:errcheck // assertion holds when err is nil
}

// readPayload validates the entry's magic and reads its payload bytes.
func (r *Reader) readPayload(entry *format.Entry) ([]byte, error) {
	if err := r.checkMagic(entry); err != nil {
		return nil, err
	}
	data := make([]byte, entry.Length)
	if _, err := r.file.ReadAt(data, int64(entry.PayloadOffset())); err != nil { //nolint:gosec // offsets fit in int64
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errFormat("resource payload is truncated", err)
		}
		return nil, errIO("reading resource payload", err)
	}
	return data, nil
}

// Open returns a bounded streaming reader over the payload of the resource
// at index, positioned just past the resource magic.
//
// Every read is an offset read against the backing file, so independent
// streams over the same file never disturb each other.
func (r *Reader) Open(index int) (*ResourceReader, error) {
	r.reset()
	if index < 0 || index >= len(r.entries) {
		return nil, r.fail(errIndexRange(index, len(r.entries)))
	}
	entry := &r.entries[index]
	if err := r.checkMagic(entry); err != nil {
		return nil, r.fail(err)
	}
	sr := io.NewSectionReader(r.file, int64(entry.PayloadOffset()), int64(entry.Length)) //nolint:gosec // offsets fit in int64
	return &ResourceReader{name: entry.Name, sr: sr}, nil
}

// checkMagic validates the resource magic preceding an entry's payload.
func (r *Reader) checkMagic(entry *format.Entry) error {
	err := format.CheckResourceMagic(r.file, int64(entry.Offset)) //nolint:gosec // offsets fit in int64
	switch {
	case err == nil:
		return nil
	case errors.Is(err, format.ErrBadResourceMagic):
		return errFormat("resource magic mismatch at offset "+strconv.FormatUint(entry.Offset, 10), err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return errFormat("resource offset points past the end of the file", err)
	default:
		return errIO("reading resource magic", err)
	}
}

// Close releases the backing file. Buffers previously returned by Bytes
// remain valid; open ResourceReaders do not.
func (r *Reader) Close() error {
	r.reset()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return r.fail(errIO("closing file", err))
	}
	return nil
}
