package stitch

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/stitchkit/stitch/internal/fileops"
	"github.com/stitchkit/stitch/internal/format"
)

// sourceKind tags the variant a pending resource draws its bytes from.
type sourceKind uint8

const (
	fromBytes sourceKind = iota
	fromPath
	fromReader
)

// pendingResource is one resource awaiting commit. Exactly one of data,
// path, or reader is populated, selected by kind. Payload bytes are never
// held here beyond what the caller handed in.
type pendingResource struct {
	name    string
	scratch [ScratchSize]byte
	kind    sourceKind
	data    []byte
	path    string
	reader  io.Reader
}

// Writer accumulates resources in memory and appends them to a file in a
// single Commit pass.
//
// A Writer is bound to a source file and, optionally, a distinct output
// file. It is not safe for concurrent use; callers needing concurrency use
// one Writer per goroutine.
type Writer struct {
	diag
	source     *os.File
	output     *os.File // nil when appending in place
	sourcePath string
	outputPath string
	pending    []pendingResource
	committed  bool
	closed     bool
	logger     *slog.Logger
}

// OpenWriter opens a writer bound to sourcePath.
//
// When outputPath is empty or resolves to the same file as sourcePath,
// resources are appended in place and the source is opened read-write.
// Otherwise the source is copied into outputPath at Commit; outputPath
// must not already exist (exclusive create) or OpenWriter fails with
// ErrOutputFileAlreadyExists before touching the source.
func OpenWriter(sourcePath, outputPath string, opts ...WriterOption) (*Writer, error) {
	inPlace := outputPath == "" || samePath(sourcePath, outputPath)

	w := &Writer{sourcePath: sourcePath, outputPath: outputPath}
	for _, opt := range opts {
		opt(w)
	}

	if inPlace {
		f, err := os.OpenFile(sourcePath, os.O_RDWR, 0)
		if err != nil {
			return nil, errPath(KindCouldNotOpenInputFile, sourcePath, err)
		}
		w.source = f
		return w, nil
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, errPath(KindCouldNotOpenInputFile, sourcePath, err)
	}
	out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o755)
	if err != nil {
		src.Close()
		if os.IsExist(err) {
			return nil, errPath(KindOutputFileAlreadyExists, outputPath, err)
		}
		return nil, errPath(KindCouldNotOpenOutputFile, outputPath, err)
	}
	w.source = src
	w.output = out
	return w, nil
}

// samePath reports whether a and b refer to the same file, preferring
// filesystem identity and falling back to canonicalized path comparison
// when either path does not exist yet.
func samePath(a, b string) bool {
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	if errA == nil && errB == nil {
		return os.SameFile(ai, bi)
	}
	aa, errA := filepath.Abs(a)
	ba, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return aa == ba
}

// log returns the logger, falling back to a discard logger if nil.
func (w *Writer) log() *slog.Logger {
	if w.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return w.logger
}

// Count returns the number of resources added so far.
func (w *Writer) Count() int {
	w.reset()
	return len(w.pending)
}

// AddFile adds a resource whose bytes come from path. The file is not
// opened until Commit; a path that cannot be opened then surfaces as
// ErrCouldNotOpenInputFile. An empty name defaults to the path's base name.
//
// Returns the resource's index.
func (w *Writer) AddFile(name, path string) (int, error) {
	w.reset()
	if err := w.usable(); err != nil {
		return 0, w.fail(err)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	w.pending = append(w.pending, pendingResource{name: name, kind: fromPath, path: path})
	return len(w.pending) - 1, nil
}

// AddBytes adds a resource whose bytes come from data. The caller must
// keep data unchanged until Commit.
//
// Returns the resource's index.
func (w *Writer) AddBytes(name string, data []byte) (int, error) {
	w.reset()
	if err := w.usable(); err != nil {
		return 0, w.fail(err)
	}
	w.pending = append(w.pending, pendingResource{name: name, kind: fromBytes, data: data})
	return len(w.pending) - 1, nil
}

// AddReader adds a resource whose bytes come from r, which is read to
// exhaustion during Commit. The caller must not consume r before then.
//
// Returns the resource's index.
func (w *Writer) AddReader(name string, r io.Reader) (int, error) {
	w.reset()
	if err := w.usable(); err != nil {
		return 0, w.fail(err)
	}
	w.pending = append(w.pending, pendingResource{name: name, kind: fromReader, reader: r})
	return len(w.pending) - 1, nil
}

// SetScratch sets the 8 scratch bytes recorded for an already-added
// resource. Unset scratch bytes are written as zeros.
func (w *Writer) SetScratch(index int, scratch [ScratchSize]byte) error {
	w.reset()
	if err := w.usable(); err != nil {
		return w.fail(err)
	}
	if index < 0 || index >= len(w.pending) {
		return w.fail(errIndexRange(index, len(w.pending)))
	}
	w.pending[index].scratch = scratch
	return nil
}

// usable rejects operations on a closed or already-committed writer.
func (w *Writer) usable() error {
	if w.closed {
		return errIO("writer is closed", nil)
	}
	if w.committed {
		return errIO("commit already performed", nil)
	}
	return nil
}

// Commit appends all pending resources, the index, and the tail in one
// irreversible pass.
//
// With a distinct output file, the source is first streamed byte-for-byte
// into the output and synced so its length is observable. In place, the
// write cursor starts at the source's current end. Commit is not atomic on
// disk: a crash mid-commit can leave payload bytes without an index or
// tail. A second Commit on the same Writer is rejected.
func (w *Writer) Commit() error {
	w.reset()
	if err := w.usable(); err != nil {
		return w.fail(err)
	}
	w.committed = true

	dst := w.source
	if w.output != nil {
		dst = w.output
	}
	bw := bufio.NewWriter(dst)
	cw := &fileops.CountingWriter{W: bw}
	buf := make([]byte, 32*1024)

	if w.output != nil {
		if _, err := fileops.CopyBuffer(cw, w.source, buf); err != nil {
			return w.fail(errIO("copying source to output", err))
		}
		if err := bw.Flush(); err != nil {
			return w.fail(errIO("flushing output", err))
		}
		if err := w.output.Sync(); err != nil {
			return w.fail(errIO("syncing output", err))
		}
	} else {
		end, err := w.source.Seek(0, io.SeekEnd)
		if err != nil {
			return w.fail(errIO("seeking to end of source", err))
		}
		cw.N = uint64(end) //nolint:gosec // file sizes are non-negative
	}

	entries := make([]format.Entry, len(w.pending))
	for i := range w.pending {
		p := &w.pending[i]
		off := cw.N
		if err := format.WriteResourceMagic(cw); err != nil {
			return w.fail(errIO("writing resource magic", err))
		}
		if err := w.writePayload(cw, p, buf); err != nil {
			return w.fail(err)
		}
		entries[i] = format.Entry{
			Name:    p.name,
			Type:    format.TypeBlob,
			Offset:  off,
			Length:  cw.N - off - format.MagicSize,
			Scratch: p.scratch,
		}
		w.log().Debug("resource written",
			"name", p.name, "index", i, "offset", off, "length", entries[i].Length)
	}

	var indexOffset uint64
	if len(entries) > 0 {
		indexOffset = cw.N
		if _, err := format.WriteIndex(cw, entries); err != nil {
			return w.fail(errIO("writing index", err))
		}
	}
	tail := format.AppendTail(nil, format.Tail{IndexOffset: indexOffset, Version: format.Version})
	if _, err := cw.Write(tail); err != nil {
		return w.fail(errIO("writing tail", err))
	}
	if err := bw.Flush(); err != nil {
		return w.fail(errIO("flushing output", err))
	}
	if err := dst.Sync(); err != nil {
		return w.fail(errIO("syncing output", err))
	}

	w.log().Debug("commit complete", "resources", len(entries), "indexOffset", indexOffset)
	return nil
}

// writePayload streams one pending resource's bytes into cw, dispatching
// on the source variant.
func (w *Writer) writePayload(cw *fileops.CountingWriter, p *pendingResource, buf []byte) error {
	switch p.kind {
	case fromBytes:
		if _, err := cw.Write(p.data); err != nil {
			return errIO("writing resource bytes", err)
		}
	case fromPath:
		f, err := os.Open(p.path)
		if err != nil {
			return errPath(KindCouldNotOpenInputFile, p.path, err)
		}
		_, cerr := fileops.CopyBuffer(cw, f, buf)
		f.Close()
		if cerr != nil {
			return errIO("copying resource file", cerr)
		}
	case fromReader:
		if _, err := fileops.CopyBuffer(cw, p.reader, buf); err != nil {
			return errIO("copying resource stream", err)
		}
	}
	return nil
}

// Close releases the writer's file handles. Close is idempotent and does
// not commit pending resources.
func (w *Writer) Close() error {
	w.reset()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.source.Close()
	if w.output != nil {
		if cerr := w.output.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return w.fail(errIO("closing files", err))
	}
	return nil
}
