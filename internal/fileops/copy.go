// Package fileops provides small I/O helpers shared by the writer.
package fileops

import "io"

// CountingWriter wraps a writer and tracks the number of bytes written.
// The count is how commit learns absolute resource and index offsets.
type CountingWriter struct {
	W io.Writer
	N uint64
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.W.Write(p)
	cw.N += uint64(n) //nolint:gosec // n is non-negative by io.Writer contract
	return n, err
}

// CopyBuffer copies src to dst through buf until EOF, returning the number
// of bytes written. It follows the stdlib io.Copy loop but never consults
// WriterTo/ReaderFrom fast paths, so counting wrappers always observe
// every byte.
func CopyBuffer(dst io.Writer, src io.Reader, buf []byte) (uint64, error) {
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}
	var written uint64
	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			if nw > 0 {
				written += uint64(nw) //nolint:gosec // non-negative by contract
			}
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er == io.EOF {
				return written, nil
			}
			return written, er
		}
	}
}
