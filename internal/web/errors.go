package web

import (
	"errors"
	"net/http"

	"github.com/cabewaldrop/pagedb/internal/storage"
	"github.com/cabewaldrop/pagedb/internal/table"
)

// statusForError maps an engine error to the HTTP status the API reports.
func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, storage.ErrTableFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, table.ErrStringTooLong),
		errors.Is(err, table.ErrNULByte),
		errors.Is(err, table.ErrNegativeID),
		errors.Is(err, table.ErrInvalidID),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, table.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetErrorHint returns a helpful hint for common engine errors.
// Returns empty string if no hint is available.
func GetErrorHint(err error) string {
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		return "A row with this id already exists."
	case errors.Is(err, storage.ErrTableFull):
		return "The database file has reached its page limit."
	case errors.Is(err, table.ErrStringTooLong):
		return "Usernames hold up to 32 bytes and emails up to 255 bytes."
	case errors.Is(err, table.ErrNegativeID), errors.Is(err, table.ErrInvalidID):
		return "Row ids are non-negative integers."
	case storage.IsFatal(err):
		return "The database file may be damaged; restart and run a check."
	default:
		return ""
	}
}
