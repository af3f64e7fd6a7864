package csvio

import (
	"bytes"
	"encoding/csv"
	"io"
)

// Object is a pending output artifact. Nothing written is visible until
// Commit returns.
type Object interface {
	io.Writer
	Commit() (string, error)
	Abort() error
}

// Sink encodes rows into an Object. It satisfies dedupe.Sink.
//
// Each row is encoded on its own so a failed write can be attributed to
// exactly one record.
type Sink struct {
	obj  Object
	buf  bytes.Buffer
	enc  *csv.Writer
	rows int
}

// NewSink creates a sink that writes rows separated by delim.
func NewSink(obj Object, delim rune) *Sink {
	s := &Sink{obj: obj}
	s.enc = csv.NewWriter(&s.buf)
	s.enc.Comma = delim
	return s
}

// WriteRow implements dedupe.Sink.
func (s *Sink) WriteRow(row []string) error {
	s.buf.Reset()
	if err := s.enc.Write(row); err != nil {
		return err
	}
	s.enc.Flush()
	if err := s.enc.Error(); err != nil {
		return err
	}
	if _, err := s.obj.Write(s.buf.Bytes()); err != nil {
		return err
	}
	s.rows++
	return nil
}

// Rows returns the number of rows written, header included.
func (s *Sink) Rows() int { return s.rows }

// Commit implements dedupe.Sink.
func (s *Sink) Commit() (string, error) { return s.obj.Commit() }

// Abort implements dedupe.Sink.
func (s *Sink) Abort() error { return s.obj.Abort() }
