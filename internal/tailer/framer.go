package tailer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// ErrUnsupportedEncoding is returned for encodings whose newline is not a single 0x0A byte.
var ErrUnsupportedEncoding = errors.New("newline is not a single byte")

// Framer splits a byte stream into newline-terminated lines. Bytes after the
// last newline are kept in a residual buffer and prefixed to the next line.
// A line is never emitted before its newline has been seen.
type Framer struct {
	residual []byte
	decoder  *encoding.Decoder
}

// NewFramer creates a Framer decoding lines from enc. A nil enc means UTF-8.
func NewFramer(enc encoding.Encoding) *Framer {
	if enc == nil {
		enc = unicode.UTF8
	}
	return &Framer{decoder: enc.NewDecoder()}
}

// LookupEncoding resolves a WHATWG encoding label such as "utf-8", "latin1"
// or "windows-1252". An empty label selects UTF-8. Encodings that do not
// write a newline as the single byte 0x0A (UTF-16) are rejected, since lines
// are split on that byte before decoding.
func LookupEncoding(label string) (encoding.Encoding, error) {
	if label == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	nl, err := enc.NewEncoder().Bytes([]byte{'\n'})
	if err != nil || !bytes.Equal(nl, []byte{'\n'}) {
		return nil, fmt.Errorf("encoding %q: %w", label, ErrUnsupportedEncoding)
	}
	return enc, nil
}

// Feed consumes p and calls emit once for every line completed by it, in
// order, including the terminating newline.
func (f *Framer) Feed(p []byte, emit func(line string)) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			f.residual = append(f.residual, p...)
			return
		}

		line := p[:i+1]
		if len(f.residual) > 0 {
			f.residual = append(f.residual, line...)
			line = f.residual
		}
		emit(f.decode(line))

		f.residual = f.residual[:0]
		p = p[i+1:]
	}
}

// Reset discards any partial line.
func (f *Framer) Reset() {
	f.residual = f.residual[:0]
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (f *Framer) Pending() int {
	return len(f.residual)
}

// decode converts a raw line to UTF-8. Invalid sequences become U+FFFD.
func (f *Framer) decode(raw []byte) string {
	out, err := f.decoder.Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
	}
	if !utf8.Valid(out) {
		return strings.ToValidUTF8(string(out), string(utf8.RuneError))
	}
	return string(out)
}
