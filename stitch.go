package stitch

import "github.com/stitchkit/stitch/internal/format"

// Constants re-exported from internal/format for the public API.
const (
	// ScratchSize is the byte length of a resource's scratch field.
	ScratchSize = format.ScratchSize

	// TailSize is the fixed byte length of the trailer; no conforming
	// file is shorter.
	TailSize = format.TailSize

	// FormatVersion is the container format version this package writes.
	FormatVersion = format.Version
)
