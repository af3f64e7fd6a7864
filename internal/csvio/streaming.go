package csvio

// streaming.go holds the io.Reader wrappers applied to every uploaded file:
//
//   - BOMSkippingReader drops a leading UTF-8 BOM (0xEF 0xBB 0xBF)
//   - Sanitizer replaces invalid UTF-8 bytes with '?'
//   - CountingReader tracks bytes consumed for job progress
//
// Wrap applies all three in order.

import (
	"bufio"
	"bytes"
	"io"
	"sync/atomic"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader skips a UTF-8 BOM at the start of the stream.
type BOMSkippingReader struct {
	br      *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{br: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.br.Peek(len(utf8BOM))
		if err != nil && err != io.EOF {
			return 0, err
		}
		if bytes.Equal(head, utf8BOM) {
			_, _ = r.br.Discard(len(utf8BOM))
		}
	}
	return r.br.Read(p)
}

// Sanitizer replaces invalid UTF-8 sequences with '?' while streaming.
// A multi-byte rune split across two reads is carried over, not replaced.
type Sanitizer struct {
	reader  io.Reader
	pending []byte
}

// NewSanitizer creates a streaming UTF-8 sanitizer.
func NewSanitizer(r io.Reader) *Sanitizer {
	return &Sanitizer{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

// Read implements io.Reader.
func (s *Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		rest := copy(s.pending, s.pending[offset:])
		s.pending = s.pending[:rest]
		if rest > 0 {
			return offset, nil
		}
	}

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if isASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// sanitize rewrites data in place and returns the number of bytes to emit.
// Unless atEOF, a truncated rune at the end is held back in pending.
func (s *Sanitizer) sanitize(data []byte, atEOF bool) int {
	end := len(data)
	if !atEOF {
		if tail := truncatedTail(data); tail > 0 {
			s.pending = append(s.pending, data[end-tail:]...)
			end -= tail
		}
	}

	if utf8.Valid(data[:end]) {
		return end
	}

	write := 0
	for read := 0; read < end; {
		r, size := utf8.DecodeRune(data[read:end])
		if r == utf8.RuneError && size == 1 {
			// '?' rather than U+FFFD so the output never grows.
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// truncatedTail returns how many trailing bytes start a rune that is not
// yet complete.
func truncatedTail(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue // continuation byte
		}
		if need := runeLen(b); need > i {
			return i
		}
		return 0
	}
	return 0
}

// runeLen returns the sequence length a leading byte announces.
func runeLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// CountingReader counts bytes read. BytesRead may be called from another
// goroutine while the reader is in use.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	total  int64
}

// NewCountingReader creates a counting reader. total is 0 when unknown.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 { return r.read.Load() }

// Progress returns the percentage read (0-100), or 0 if the total is unknown.
func (r *CountingReader) Progress() int {
	if r.total <= 0 {
		return 0
	}
	pct := int(r.read.Load() * 100 / r.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Wrap strips the BOM, sanitizes UTF-8 and counts bytes, in that order.
func Wrap(r io.Reader, totalSize int64) *CountingReader {
	return NewCountingReader(NewSanitizer(NewBOMSkippingReader(r)), totalSize)
}
