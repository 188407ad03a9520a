package tailer

import (
	"errors"
	"io"
	"log"

	"github.com/good-yellow-bee/tailguard/internal/metrics"
)

// ChunkSize is the number of bytes requested per read.
const ChunkSize = 4096

// ReadOnce reads everything currently available from the attached file and
// passes completed lines to the sink.
//
// A full chunk means more data may be waiting, so reading continues. After a
// short read the end-of-file offset is compared with the cursor: a smaller
// end means the file was truncated under the handle and reading restarts at
// offset 0; a larger end means a writer appended after the read, and the
// modify event that append produces will trigger the next read.
func (s *Subscription) ReadOnce() error {
	if s.file == nil {
		return ErrNoHandle
	}

	for {
		n, err := s.file.Read(s.buf)
		if err != nil && !endOfData(err) {
			return &ReadError{Path: s.target.Path, Op: "read", Err: err}
		}
		if n > 0 {
			metrics.BytesReadTotal.WithLabelValues(s.target.Path).Add(float64(n))
			s.framer.Feed(s.buf[:n], s.deliver)
		}
		if n == len(s.buf) {
			continue
		}

		cur, err := s.file.Seek(0, io.SeekCurrent)
		if err != nil {
			return &ReadError{Path: s.target.Path, Op: "seek", Err: err}
		}
		end, err := s.file.Seek(0, io.SeekEnd)
		if err != nil {
			return &ReadError{Path: s.target.Path, Op: "seek", Err: err}
		}

		switch {
		case end < cur:
			log.Printf("[tailer] %s was truncated (%d < %d), reading from start", s.target.Path, end, cur)
			metrics.TruncationsTotal.WithLabelValues(s.target.Path).Inc()
			// The partial line belongs to content that no longer exists.
			s.framer.Reset()
			if _, err := s.file.Seek(0, io.SeekStart); err != nil {
				return &ReadError{Path: s.target.Path, Op: "seek", Err: err}
			}
			continue
		case end > cur:
			if _, err := s.file.Seek(cur, io.SeekStart); err != nil {
				return &ReadError{Path: s.target.Path, Op: "seek", Err: err}
			}
		}
		return nil
	}
}

// endOfData reports whether a read error only signals that the cursor is at or
// past the end of the file. In-memory files report a cursor left behind by a
// truncation as io.ErrUnexpectedEOF.
func endOfData(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
