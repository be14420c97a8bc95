package stitch

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the engine can report. The numeric values
// are stable across releases so foreign bindings can marshal them directly
// as error codes.
type Kind uint64

const (
	// KindUnknown is reserved for failures that escaped classification.
	// The engine never returns it; bindings may.
	KindUnknown Kind = 1

	// KindOutputFileAlreadyExists: the writer's distinct output path
	// already exists on disk.
	KindOutputFileAlreadyExists Kind = 2

	// KindCouldNotOpenInputFile: the source file or a resource path could
	// not be opened for reading.
	KindCouldNotOpenInputFile Kind = 3

	// KindCouldNotOpenOutputFile: the output file could not be created.
	KindCouldNotOpenOutputFile Kind = 4

	// KindInvalidExecutableFormat: the file is not a conforming stitch
	// container, or its index and payloads have drifted out of sync.
	KindInvalidExecutableFormat Kind = 5

	// KindResourceNotFound: no resource with the given name or index.
	KindResourceNotFound Kind = 6

	// KindIoError: an unexpected lower-level I/O failure. Once a commit
	// has begun writing, all failures fold into this kind.
	KindIoError Kind = 7
)

// Sentinel errors, one per kind. errors.Is matches any engine error
// against the sentinel for its kind.
var (
	ErrUnknown                 = errors.New("stitch: unknown error")
	ErrOutputFileAlreadyExists = errors.New("stitch: output file already exists")
	ErrCouldNotOpenInputFile   = errors.New("stitch: could not open input file")
	ErrCouldNotOpenOutputFile  = errors.New("stitch: could not open output file")
	ErrInvalidExecutableFormat = errors.New("stitch: invalid executable format")
	ErrResourceNotFound        = errors.New("stitch: resource not found")
	ErrIO                      = errors.New("stitch: i/o error")
)

// sentinel returns the sentinel error for the kind. The mapping is static;
// kinds and sentinels are never matched by name.
func (k Kind) sentinel() error {
	switch k {
	case KindOutputFileAlreadyExists:
		return ErrOutputFileAlreadyExists
	case KindCouldNotOpenInputFile:
		return ErrCouldNotOpenInputFile
	case KindCouldNotOpenOutputFile:
		return ErrCouldNotOpenOutputFile
	case KindInvalidExecutableFormat:
		return ErrInvalidExecutableFormat
	case KindResourceNotFound:
		return ErrResourceNotFound
	case KindIoError:
		return ErrIO
	default:
		return ErrUnknown
	}
}

// String returns the kind's identifier.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindOutputFileAlreadyExists:
		return "OutputFileAlreadyExists"
	case KindCouldNotOpenInputFile:
		return "CouldNotOpenInputFile"
	case KindCouldNotOpenOutputFile:
		return "CouldNotOpenOutputFile"
	case KindInvalidExecutableFormat:
		return "InvalidExecutableFormat"
	case KindResourceNotFound:
		return "ResourceNotFound"
	case KindIoError:
		return "IoError"
	default:
		return fmt.Sprintf("Kind(%d)", uint64(k))
	}
}

// Message returns a human-readable description for the kind, suitable for
// contexts where no richer diagnostic is available (e.g. a binding that
// only has the numeric code).
func (k Kind) Message() string {
	switch k {
	case KindOutputFileAlreadyExists:
		return "output file already exists"
	case KindCouldNotOpenInputFile:
		return "could not open input file"
	case KindCouldNotOpenOutputFile:
		return "could not open output file"
	case KindInvalidExecutableFormat:
		return "invalid executable format"
	case KindResourceNotFound:
		return "resource not found"
	case KindIoError:
		return "i/o error"
	default:
		return "unknown error"
	}
}

// Error is the structured diagnostic attached to every engine failure.
// Path, Name, and Detail carry whatever context the failing operation had.
type Error struct {
	Kind   Kind
	Path   string
	Name   string
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "stitch: " + e.Kind.Message()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Name != "" {
		msg += ": " + e.Name
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind, so
// errors.Is(err, stitch.ErrResourceNotFound) works without exposing the
// struct.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func errPath(k Kind, path string, err error) *Error {
	return &Error{Kind: k, Path: path, Err: err}
}

func errFormat(detail string, err error) *Error {
	return &Error{Kind: KindInvalidExecutableFormat, Detail: detail, Err: err}
}

func errIO(detail string, err error) *Error {
	return &Error{Kind: KindIoError, Detail: detail, Err: err}
}

func errIndexRange(index, count int) *Error {
	return &Error{
		Kind:   KindResourceNotFound,
		Detail: fmt.Sprintf("index %d out of range [0, %d)", index, count),
	}
}

func errNameNotFound(name string) *Error {
	return &Error{Kind: KindResourceNotFound, Name: name}
}

// diag is the one-shot diagnostic slot shared by Writer and Reader. Every
// public method resets it on entry and records the structured failure, if
// any, before returning. Read it before the next call.
type diag struct {
	last *Error
}

func (d *diag) reset() {
	d.last = nil
}

// fail records err in the slot when it carries a structured diagnostic and
// returns err unchanged.
func (d *diag) fail(err error) error {
	var e *Error
	if errors.As(err, &e) {
		d.last = e
	}
	return err
}

// LastDiagnostic returns the most recent failure's diagnostic text, or ""
// when the last operation succeeded. The slot is cleared at the start of
// every public method on the owning Writer or Reader.
func (d *diag) LastDiagnostic() string {
	if d.last == nil {
		return ""
	}
	return d.last.Error()
}
