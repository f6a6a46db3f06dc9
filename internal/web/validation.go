// Package web - Input validation for web handlers
//
// EDUCATIONAL NOTES:
// ------------------
// Input validation is critical for data integrity:
//
// 1. Decode strictly: unknown JSON fields and trailing data are rejected so
//    typos in a request body surface as errors instead of silent defaults.
//
// 2. Early validation: Validate input at the HTTP layer before it reaches
//    the table, providing better error messages to users.

package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cabewaldrop/pagedb/internal/table"
)

// maxBodyBytes caps request bodies; a row is a few hundred bytes.
const maxBodyBytes = 64 << 10

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

// rowRequest is the body of POST /api/rows. ID is signed so a negative id
// can be reported as such instead of as a JSON type error.
type rowRequest struct {
	ID       *int64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// decodeRow reads and validates a row from the request body.
func decodeRow(w http.ResponseWriter, r *http.Request) (table.Row, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var req rowRequest
	if err := dec.Decode(&req); err != nil {
		return table.Row{}, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return table.Row{}, fmt.Errorf("%w: body must contain a single JSON object", errBadRequest)
	}
	if req.ID == nil {
		return table.Row{}, fmt.Errorf("%w: id field is required", errBadRequest)
	}

	id, err := table.CheckID(*req.ID)
	if err != nil {
		return table.Row{}, err
	}

	row := table.Row{ID: id, Username: req.Username, Email: req.Email}
	if err := row.Validate(); err != nil {
		return table.Row{}, err
	}
	return row, nil
}
