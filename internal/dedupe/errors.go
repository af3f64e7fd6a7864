package dedupe

// errors.go defines the job error taxonomy.
//
// Configuration and I/O failures are fatal and carry a machine-readable code.
// Per-row write failures never abort a job; they surface only as report warnings.
//
//	CFG001 - unsupported action
//	CFG002 - unsupported duplicate type
//	CFG003 - single-column header (wrong delimiter)
//	CFG004 - fields for partial detection missing from header
//	CFG005 - explicit id field missing from header
//	CFG006 - input has no header row
//	CFG007 - unsupported content type
//	IO001  - reading input failed
//	IO002  - opening or preparing output failed
//	IO003  - closing output failed
//	IO004  - storing input failed
//	JOB001 - job cancelled
//	JOB002 - too many concurrent jobs
//	JOB003 - job not found

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups errors by how a caller should react.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindIO
	KindCancelled
	KindBusy
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindIO:
		return "io"
	case KindCancelled:
		return "cancelled"
	case KindBusy:
		return "busy"
	case KindNotFound:
		return "not found"
	}
	return "unknown"
}

const (
	CodeUnsupportedAction     = "CFG001"
	CodeUnsupportedDuplicates = "CFG002"
	CodeSingleColumn          = "CFG003"
	CodeMissingFields         = "CFG004"
	CodeIDFieldNotFound       = "CFG005"
	CodeEmptyInput            = "CFG006"
	CodeUnsupportedType       = "CFG007"
	CodeReadInput             = "IO001"
	CodeOpenOutput            = "IO002"
	CodeCloseOutput           = "IO003"
	CodeStoreInput            = "IO004"
	CodeCancelled             = "JOB001"
	CodeTooManyJobs           = "JOB002"
	CodeJobNotFound           = "JOB003"
)

// Error is a fatal job error.
type Error struct {
	Kind    Kind
	Code    string
	Message string // short summary
	Detail  string // human explanation
	// Warnings accumulated before the failure.
	Warnings []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Warnings) > 0 {
		fmt.Fprintf(&b, " (warnings: %s)", strings.Join(e.Warnings, "; "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConfiguration
}

// KindOf returns the kind of err, or 0 if it is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsIO reports whether err is an I/O failure.
func IsIO(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindIO
}

// CodeOf returns the error code carried by err, or "" if it has none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ConfigError returns a configuration failure.
func ConfigError(code, msg, detail string) *Error {
	return &Error{Kind: KindConfiguration, Code: code, Message: msg, Detail: detail}
}

// IOError returns an I/O failure carrying the warnings gathered so far.
func IOError(code, msg string, err error, warnings []string) *Error {
	return &Error{Kind: KindIO, Code: code, Message: msg, Err: err, Warnings: warnings}
}

// RowWriteError is a recoverable failure writing one output row.
type RowWriteError struct {
	Index int
	Err   error
}

func (e *RowWriteError) Error() string {
	return fmt.Sprintf("could not write record %d: %v", e.Index, e.Err)
}

func (e *RowWriteError) Unwrap() error { return e.Err }
