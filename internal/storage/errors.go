package storage

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrCorruptFile means the file length is not a whole number of pages, or
	// a page header holds a node type or cell count the tree never writes.
	ErrCorruptFile = errors.New("corrupt database file")

	// ErrPageBoundsExceeded means a page number at or beyond the configured maximum was requested.
	ErrPageBoundsExceeded = errors.New("page number out of bounds")

	// ErrIO wraps a failed read, write, seek or sync on the database file.
	ErrIO = errors.New("i/o error")

	// ErrChildIndexOutOfRange means an internal node was asked for a child past its right child.
	ErrChildIndexOutOfRange = errors.New("child index out of range")

	// ErrFlushUnloadedPage means a flush was requested for a page that was never loaded.
	ErrFlushUnloadedPage = errors.New("tried to flush unloaded page")

	// ErrDuplicateKey means the key being inserted already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTableFull means the pages needed to split a full node cannot be allocated.
	ErrTableFull = errors.New("table full")

	// ErrInvalidConfig means the page geometry cannot hold a usable tree.
	ErrInvalidConfig = errors.New("invalid storage config")
)

// NoPage marks an Error that is not about a particular page.
const NoPage = ^uint32(0)

// fatalKinds are conditions that end the current session on this file.
// They are never retried.
var fatalKinds = []error{
	ErrCorruptFile,
	ErrPageBoundsExceeded,
	ErrIO,
	ErrChildIndexOutOfRange,
	ErrFlushUnloadedPage,
}

// Error describes a failed storage operation.
type Error struct {
	// Op is the operation that failed, e.g. "open" or "flush".
	Op string

	// Kind is one of the Err* sentinels above.
	Kind error

	// Page is the page involved, or NoPage.
	Page uint32

	// Err is the underlying cause, usually an *os.PathError.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Page != NoPage {
		msg = fmt.Sprintf("%s page %d: %v", e.Op, e.Page, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Fatal reports whether the error leaves the file unusable for this session.
func (e *Error) Fatal() bool {
	for _, kind := range fatalKinds {
		if errors.Is(e.Kind, kind) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err is a fatal, non-retryable storage condition.
func IsFatal(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Fatal()
	}
	for _, kind := range fatalKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func newError(op string, kind error, page uint32, cause error) *Error {
	return &Error{Op: op, Kind: kind, Page: page, Err: cause}
}
