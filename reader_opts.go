package stitch

import "log/slog"

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithCache configures the Reader to cache resource payloads.
//
// On a cache miss, concurrent Bytes calls for the same resource are
// deduplicated so the backing file is read once.
func WithCache(c Cache) ReaderOption {
	return func(r *Reader) {
		r.cache = c
	}
}

// WithReaderLogger sets the logger used for debug events.
// Without it, logging is discarded.
func WithReaderLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}
