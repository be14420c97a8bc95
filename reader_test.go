package stitch

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchkit/stitch/internal/format"
)

// stitchFile builds a container in dir with the given named payloads and
// returns its path.
func stitchFile(tb testing.TB, dir string, resources map[string]string) string {
	tb.Helper()
	source := writeFixture(tb, dir, "stitched-source", "Executable bytes goes here")

	w, err := OpenWriter(source, "")
	require.NoError(tb, err)
	for name, content := range resources {
		_, err := w.AddBytes(name, []byte(content))
		require.NoError(tb, err)
	}
	require.NoError(tb, w.Commit())
	require.NoError(tb, w.Close())
	return source
}

func TestOpenRejectsShortFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "tiny", "abc")

	_, err := OpenReader(path)
	assert.ErrorIs(t, err, ErrInvalidExecutableFormat)
}

func TestOpenRejectsBadEOFMagic(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, map[string]string{"res": "data"})

	// Corrupt the trailing magic of an otherwise well-formed file.
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	content[len(content)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, content, 0o644))

	_, err = OpenReader(path)
	assert.ErrorIs(t, err, ErrInvalidExecutableFormat)
}

func TestOpenRejectsIndexOffsetPastEnd(t *testing.T) {
	dir := t.TempDir()
	content := append([]byte("short prefix"),
		format.AppendTail(nil, format.Tail{IndexOffset: 1 << 20, Version: format.Version})...)
	path := filepath.Join(dir, "bad-offset")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	_, err := OpenReader(path)
	assert.ErrorIs(t, err, ErrInvalidExecutableFormat)
}

func TestOpenRejectsGarbageIndex(t *testing.T) {
	dir := t.TempDir()
	// The index region claims more entries than it holds.
	region := binary.BigEndian.AppendUint64(nil, 500)
	content := append([]byte("p"), region...)
	content = append(content,
		format.AppendTail(nil, format.Tail{IndexOffset: 1, Version: format.Version})...)
	path := filepath.Join(dir, "bad-index")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	_, err := OpenReader(path)
	assert.ErrorIs(t, err, ErrInvalidExecutableFormat)
}

// craftedFile assembles a container by hand so tests can plant index
// entries the writer would never produce.
func craftedFile(tb testing.TB, dir string, entries []format.Entry) string {
	tb.Helper()
	var buf bytes.Buffer
	buf.WriteString("prefix")
	require.NoError(tb, format.WriteResourceMagic(&buf))
	buf.WriteString("payload")
	indexOffset := uint64(buf.Len())
	_, err := format.WriteIndex(&buf, entries)
	require.NoError(tb, err)
	buf.Write(format.AppendTail(nil, format.Tail{IndexOffset: indexOffset, Version: format.Version}))

	path := filepath.Join(dir, "crafted")
	require.NoError(tb, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestOpenRejectsEntryWithHugeLength(t *testing.T) {
	dir := t.TempDir()
	// A valid magic sits at offset 6, but the declared length must never
	// reach an allocation.
	path := craftedFile(t, dir, []format.Entry{
		{Name: "evil", Type: format.TypeBlob, Offset: 6, Length: 1 << 63},
	})

	_, err := OpenReader(path)
	assert.ErrorIs(t, err, ErrInvalidExecutableFormat)
}

func TestOpenRejectsEntryOutsideResourceRegion(t *testing.T) {
	// The crafted payload region is "prefix"(6) + magic(8) + "payload"(7),
	// so the index starts at offset 21.
	cases := []format.Entry{
		{Name: "spills-into-index", Type: format.TypeBlob, Offset: 6, Length: uint64(len("payload")) + 1},
		{Name: "offset-past-end", Type: format.TypeBlob, Offset: 1 << 40, Length: 1},
		{Name: "offset-max", Type: format.TypeBlob, Offset: ^uint64(0), Length: 1},
		{Name: "no-room-for-magic", Type: format.TypeBlob, Offset: 20, Length: 0},
	}
	for _, entry := range cases {
		t.Run(entry.Name, func(t *testing.T) {
			path := craftedFile(t, t.TempDir(), []format.Entry{entry})
			_, err := OpenReader(path)
			assert.ErrorIs(t, err, ErrInvalidExecutableFormat)
		})
	}
}

func TestOpenAcceptsEntryFillingResourceRegion(t *testing.T) {
	// A payload ending exactly where the index begins is the normal shape
	// of the last resource in a file.
	path := craftedFile(t, t.TempDir(), []format.Entry{
		{Name: "exact", Type: format.TypeBlob, Offset: 6, Length: uint64(len("payload"))},
	})

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Bytes(0)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestOpenMissingFile(t *testing.T) {
	_, err := OpenReader(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrCouldNotOpenInputFile)
}

func TestIdempotentRead(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, map[string]string{"res": "read me twice"})

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Bytes(0)
	require.NoError(t, err)
	second, err := r.Bytes(0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "read me twice", string(first))
}

func TestStreamingEquivalence(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, map[string]string{
		"small": "x",
		"empty": "",
		"text":  "a somewhat longer payload\nwith multiple lines\n",
	})

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < r.Count(); i++ {
		buffered, err := r.Bytes(i)
		require.NoError(t, err)

		rr, err := r.Open(i)
		require.NoError(t, err)
		streamed, err := io.ReadAll(rr)
		require.NoError(t, err)

		assert.Equal(t, buffered, streamed, "resource %d", i)
	}
}

func TestStreamReaderIsBounded(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, map[string]string{"res": "bounded"})

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	rr, err := r.Open(0)
	require.NoError(t, err)
	assert.Equal(t, int64(len("bounded")), rr.Size())

	// Drain, then keep reading: EOF, never bytes past the payload.
	data, err := io.ReadAll(rr)
	require.NoError(t, err)
	assert.Equal(t, "bounded", string(data))

	n, err := rr.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = rr.ReadAt(make([]byte, 8), 4)
	assert.ErrorIs(t, err, io.EOF)
}

func TestInterleavedStreams(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, map[string]string{"res": "interleaved payload"})

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	a, err := r.Open(0)
	require.NoError(t, err)
	b, err := r.Open(0)
	require.NoError(t, err)

	// Alternating reads share the file but not a cursor.
	var gotA, gotB bytes.Buffer
	bufA, bufB := make([]byte, 3), make([]byte, 5)
	doneA, doneB := false, false
	for !doneA || !doneB {
		if !doneA {
			n, err := a.Read(bufA)
			gotA.Write(bufA[:n])
			if err == io.EOF {
				doneA = true
			} else {
				require.NoError(t, err)
			}
		}
		if !doneB {
			n, err := b.Read(bufB)
			gotB.Write(bufB[:n])
			if err == io.EOF {
				doneB = true
			} else {
				require.NoError(t, err)
			}
		}
	}
	assert.Equal(t, "interleaved payload", gotA.String())
	assert.Equal(t, "interleaved payload", gotB.String())
}

func TestResourceMagicDriftDetected(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, map[string]string{"res": "drifting"})

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	magic := binary.BigEndian.AppendUint64(nil, format.ResourceMagic)
	at := bytes.Index(content, magic)
	require.GreaterOrEqual(t, at, 0)
	content[at] ^= 0xff
	require.NoError(t, os.WriteFile(path, content, 0o644))

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Bytes(0)
	assert.ErrorIs(t, err, ErrInvalidExecutableFormat)

	_, err = r.Open(0)
	assert.ErrorIs(t, err, ErrInvalidExecutableFormat)
}

func TestBoundsAreStrict(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, map[string]string{"res": "x"})

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	// Index equal to the count is out of range, not one-past-the-end.
	count := r.Count()
	_, err = r.Bytes(count)
	assert.ErrorIs(t, err, ErrResourceNotFound)
	_, err = r.Size(count)
	assert.ErrorIs(t, err, ErrResourceNotFound)
	_, err = r.Scratch(count)
	assert.ErrorIs(t, err, ErrResourceNotFound)
	_, err = r.Open(count)
	assert.ErrorIs(t, err, ErrResourceNotFound)
	_, err = r.Name(count)
	assert.ErrorIs(t, err, ErrResourceNotFound)
	_, err = r.Bytes(-1)
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestIndexNameNotFound(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, map[string]string{"res": "x"})

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Index("absent")
	assert.ErrorIs(t, err, ErrResourceNotFound)
	assert.Contains(t, r.LastDiagnostic(), "absent")

	// The diagnostic slot is one-shot.
	_, err = r.Index("res")
	require.NoError(t, err)
	assert.Empty(t, r.LastDiagnostic())

	// Pure accessors reset the slot like every other public call.
	_, err = r.Index("absent")
	require.Error(t, err)
	r.Count()
	assert.Empty(t, r.LastDiagnostic())

	_, err = r.Index("absent")
	require.Error(t, err)
	r.FormatVersion()
	assert.Empty(t, r.LastDiagnostic())
}

func TestCachedReads(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, map[string]string{"res": "cache me"})

	cache := NewMemoryCache(0)
	r, err := OpenReader(path, WithCache(cache))
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Bytes(0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	// Mutating a returned buffer must not poison later reads.
	first[0] = '!'
	second, err := r.Bytes(0)
	require.NoError(t, err)
	assert.Equal(t, "cache me", string(second))
}

func TestOpenSelfRejectsPlainExecutable(t *testing.T) {
	// The test binary has no tail, so OpenSelf must fail the format check
	// rather than misread it.
	_, err := OpenSelf()
	assert.ErrorIs(t, err, ErrInvalidExecutableFormat)
}

func TestZeroResourceTail(t *testing.T) {
	dir := t.TempDir()
	path := stitchFile(t, dir, nil)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(content), TailSize)

	tail, err := format.ParseTail(content[len(content)-TailSize:])
	require.NoError(t, err)
	assert.Zero(t, tail.IndexOffset)
	assert.Equal(t, format.Version, tail.Version)
}
