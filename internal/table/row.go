package table

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// ColumnUsernameSize is the longest username accepted, in bytes.
	ColumnUsernameSize = 32
	// ColumnEmailSize is the longest email accepted, in bytes.
	ColumnEmailSize = 255
)

// Serialized row layout. Each string field has one spare byte so a full
// length value is still NUL terminated on disk.
const (
	IDSize         = 4
	UsernameSize   = ColumnUsernameSize + 1
	EmailSize      = ColumnEmailSize + 1
	IDOffset       = 0
	UsernameOffset = IDOffset + IDSize
	EmailOffset    = UsernameOffset + UsernameSize
	RowSize        = IDSize + UsernameSize + EmailSize
)

var (
	// ErrStringTooLong means a username or email exceeds its column width.
	ErrStringTooLong = errors.New("string is too long")

	// ErrNegativeID means a row ID below zero was supplied.
	ErrNegativeID = errors.New("id must be positive")

	// ErrNULByte means a string field contains a NUL byte, which the
	// encoding uses as its terminator.
	ErrNULByte = errors.New("string contains a NUL byte")

	// ErrInvalidID means a row ID is not an integer or does not fit in 32 bits.
	ErrInvalidID = errors.New("invalid id")
)

// Row is a single record, keyed by ID.
type Row struct {
	ID       uint32 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// String renders the row the way the REPL prints it.
func (r Row) String() string {
	return fmt.Sprintf("(%d, %s, %s)", r.ID, r.Username, r.Email)
}

// Validate checks that the row fits its fixed-width encoding.
func (r Row) Validate() error {
	if len(r.Username) > ColumnUsernameSize {
		return fmt.Errorf("username: %w (%d > %d bytes)", ErrStringTooLong, len(r.Username), ColumnUsernameSize)
	}
	if len(r.Email) > ColumnEmailSize {
		return fmt.Errorf("email: %w (%d > %d bytes)", ErrStringTooLong, len(r.Email), ColumnEmailSize)
	}
	if strings.IndexByte(r.Username, 0) >= 0 || strings.IndexByte(r.Email, 0) >= 0 {
		return ErrNULByte
	}
	return nil
}

// CheckID converts a signed ID, as typed by a user, to a key.
func CheckID(id int64) (uint32, error) {
	if id < 0 {
		return 0, ErrNegativeID
	}
	if id > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d exceeds %d", ErrInvalidID, id, uint32(math.MaxUint32))
	}
	return uint32(id), nil
}

// ParseID parses a decimal row ID.
func ParseID(s string) (uint32, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return CheckID(id)
}

// SerializeRow writes r into dst, which must be at least RowSize bytes.
// String fields are zero padded, so stale bytes in dst never leak into the
// stored row. The caller must have validated r.
//
// EDUCATIONAL NOTE:
// -----------------
// Every row occupies exactly RowSize bytes no matter how short its strings
// are. Fixed-width records waste some space but let the B-tree compute the
// position of any cell with a single multiplication.
func SerializeRow(r Row, dst []byte) {
	_ = dst[RowSize-1]

	binary.LittleEndian.PutUint32(dst[IDOffset:IDOffset+IDSize], r.ID)
	putString(dst[UsernameOffset:UsernameOffset+UsernameSize], r.Username)
	putString(dst[EmailOffset:EmailOffset+EmailSize], r.Email)
}

// DeserializeRow decodes a row written by SerializeRow.
func DeserializeRow(src []byte) Row {
	_ = src[RowSize-1]

	return Row{
		ID:       binary.LittleEndian.Uint32(src[IDOffset : IDOffset+IDSize]),
		Username: getString(src[UsernameOffset : UsernameOffset+UsernameSize]),
		Email:    getString(src[EmailOffset : EmailOffset+EmailSize]),
	}
}

func putString(field []byte, s string) {
	n := copy(field, s)
	clear(field[n:])
}

func getString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}
