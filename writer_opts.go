package stitch

import "log/slog"

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterLogger sets the logger used for debug events during Commit.
// Without it, logging is discarded.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}
