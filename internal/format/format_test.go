package format

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailRoundTrip(t *testing.T) {
	encoded := AppendTail(nil, Tail{IndexOffset: 4096, Version: Version})
	require.Len(t, encoded, TailSize)

	tail, err := ParseTail(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), tail.IndexOffset)
	assert.Equal(t, Version, tail.Version)
}

func TestParseTailRejectsBadMagic(t *testing.T) {
	encoded := AppendTail(nil, Tail{IndexOffset: 0, Version: Version})
	encoded[TailSize-1] ^= 0xff

	_, err := ParseTail(encoded)
	assert.ErrorIs(t, err, ErrBadEOFMagic)
}

func TestParseTailRejectsWrongLength(t *testing.T) {
	_, err := ParseTail(make([]byte, TailSize-1))
	assert.Error(t, err)

	_, err = ParseTail(make([]byte, TailSize+1))
	assert.Error(t, err)
}

func TestIndexRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: "one", Type: TypeBlob, Offset: 27, Length: 11},
		{Name: "two.txt", Type: TypeBlob, Offset: 46, Length: 11,
			Scratch: [ScratchSize]byte{0x7f, 0x45, 0x4c, 0x46, 2, 1, 1, 0}},
		{Name: "", Type: TypeBlob, Offset: 65, Length: 0},
	}

	var buf bytes.Buffer
	n, err := WriteIndex(&buf, entries)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	parsed, err := ParseIndex(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, entries, parsed)
}

func TestIndexEmpty(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteIndex(&buf, nil)
	require.NoError(t, err)

	parsed, err := ParseIndex(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseIndexTruncated(t *testing.T) {
	entries := []Entry{{Name: "resource", Type: TypeBlob, Offset: 8, Length: 100}}
	var buf bytes.Buffer
	_, err := WriteIndex(&buf, entries)
	require.NoError(t, err)

	data := buf.Bytes()
	for cut := 1; cut < len(data); cut++ {
		_, err := ParseIndex(data[:len(data)-cut])
		assert.ErrorIs(t, err, ErrTruncatedIndex, "cut %d bytes", cut)
	}
}

func TestParseIndexRejectsImplausibleCount(t *testing.T) {
	data := binary.BigEndian.AppendUint64(nil, 1<<40)
	_, err := ParseIndex(data)
	assert.ErrorIs(t, err, ErrTruncatedIndex)
}

func TestParseIndexRejectsOversizedName(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteIndex(&buf, []Entry{{Name: "abc"}})
	require.NoError(t, err)

	// Claim a name longer than the remaining data.
	data := buf.Bytes()
	binary.BigEndian.PutUint64(data[8:], 1<<32)
	_, err = ParseIndex(data)
	assert.ErrorIs(t, err, ErrTruncatedIndex)
}

func TestResourceMagicCheck(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("prefix")
	require.NoError(t, WriteResourceMagic(&buf))
	buf.WriteString("payload")

	data := bytes.NewReader(buf.Bytes())
	assert.NoError(t, CheckResourceMagic(data, 6))
	assert.ErrorIs(t, CheckResourceMagic(data, 0), ErrBadResourceMagic)
}

func TestPayloadOffset(t *testing.T) {
	e := Entry{Offset: 100}
	assert.Equal(t, uint64(100+MagicSize), e.PayloadOffset())
}
