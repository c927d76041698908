package hdfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// Kind classifies a failure.
type Kind int

const (
	// KindOther marks local I/O failures outside the taxonomy (for example a
	// full disk while writing a download).
	KindOther Kind = iota
	KindConnection
	KindPermission
	KindNotFound
	KindAlreadyExists
	KindNotEmpty
	KindChecksumMismatch
	KindClosedSession
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindPermission:
		return "permission denied"
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindNotEmpty:
		return "directory not empty"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindClosedSession:
		return "session closed"
	default:
		return "i/o error"
	}
}

// Source tells whether a failure came from the local filesystem or the service.
type Source int

const (
	SourceRemote Source = iota
	SourceLocal
)

func (s Source) String() string {
	if s == SourceLocal {
		return "local"
	}
	return "remote"
}

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrConnection       = errors.New("hdfs: connection error")
	ErrPermission       = errors.New("hdfs: permission denied")
	ErrNotFound         = errors.New("hdfs: not found")
	ErrAlreadyExists    = errors.New("hdfs: already exists")
	ErrNotEmpty         = errors.New("hdfs: directory not empty")
	ErrChecksumMismatch = errors.New("hdfs: checksum mismatch")
	ErrClosedSession    = errors.New("hdfs: session closed")
)

// ErrInvalidPath is returned for empty or relative remote paths.
var ErrInvalidPath = errors.New("hdfs: remote path must be absolute")

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindPermission:
		return ErrPermission
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindNotEmpty:
		return ErrNotEmpty
	case KindChecksumMismatch:
		return ErrChecksumMismatch
	case KindClosedSession:
		return ErrClosedSession
	}
	return nil
}

// Error is returned by every Session operation that fails.
type Error struct {
	Kind   Kind
	Source Source
	Op     string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("hdfs: ")
	if e.Op != "" || e.Path != "" {
		b.WriteString(strings.TrimSpace(e.Op + " " + e.Path))
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s (%s)", e.Kind, e.Source)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of err, or KindOther when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsLocal reports whether err originated on the local filesystem.
func IsLocal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Source == SourceLocal
}

func newError(kind Kind, source Source, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

// classify maps os and syscall errors onto the taxonomy. Unknown failures
// fall back to def.
func classify(err error, def Kind) Kind {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return KindNotFound
	case errors.Is(err, os.ErrPermission):
		return KindPermission
	case errors.Is(err, os.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, syscall.ENOTEMPTY):
		return KindNotEmpty
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindConnection
	}
	return def
}

// asError annotates err with op and path, classifying it first if needed.
func asError(op, path string, source Source, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		if cp.Op == "" {
			cp.Op = op
		}
		if cp.Path == "" {
			cp.Path = path
		}
		return &cp
	}
	def := KindConnection
	if source == SourceLocal {
		def = KindOther
	}
	return &Error{Kind: classify(err, def), Source: source, Op: op, Path: path, Err: err}
}
