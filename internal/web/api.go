// Package web provides the HTTP server for browsing and editing a table.
//
// This file contains the JSON API endpoints for programmatic access.

package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cabewaldrop/pagedb/internal/storage"
	"github.com/cabewaldrop/pagedb/internal/table"
)

// ============================================================================
// API Response Types
// ============================================================================

// APIResponse wraps all API responses with success/error info.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// RowsResponse contains a page of rows in id order.
type RowsResponse struct {
	Rows    []table.Row `json:"rows"`
	Offset  int         `json:"offset"`
	Limit   int         `json:"limit"`
	HasMore bool        `json:"has_more"`
}

// TreeResponse describes the B-tree backing the table.
type TreeResponse struct {
	NumPages uint32            `json:"num_pages"`
	Root     *storage.NodeInfo `json:"root"`
}

// ConstantsResponse reports the row encoding and page geometry.
type ConstantsResponse struct {
	RowSize uint32 `json:"row_size"`
	storage.Constants
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// ============================================================================
// Helper Functions
// ============================================================================

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful API response.
func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error API response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeEngineError reports err with the status and hint it maps to.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.requestLog(r).Error("request failed", "error", err, "fatal", storage.IsFatal(err))
	}
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
		Hint:    GetErrorHint(err),
	})
}

// pagination reads limit and offset query parameters, ignoring bad values.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// pageOfRows scans tbl and returns up to limit rows after skipping offset.
// hasMore reports whether another row follows the page.
func pageOfRows(tbl *table.Table, limit, offset int) (rows []table.Row, hasMore bool, err error) {
	rows = []table.Row{}
	i := 0
	for row, err := range tbl.Rows() {
		if err != nil {
			return nil, false, err
		}
		switch {
		case i < offset:
		case len(rows) < limit:
			rows = append(rows, row)
		default:
			return rows, true, nil
		}
		i++
	}
	return rows, false, nil
}

// ============================================================================
// API Handlers
// ============================================================================

// handleAPIRows returns a page of rows.
// GET /api/rows?limit=50&offset=0
func (s *Server) handleAPIRows(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	rows, hasMore, err := pageOfRows(GetTable(r), limit, offset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, RowsResponse{
		Rows:    rows,
		Offset:  offset,
		Limit:   limit,
		HasMore: hasMore,
	})
}

// handleAPIRow returns a single row.
// GET /api/rows/{id}
func (s *Server) handleAPIRow(w http.ResponseWriter, r *http.Request) {
	id, err := table.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	row, ok, err := GetTable(r).Find(id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "row "+strconv.FormatUint(uint64(id), 10)+" not found")
		return
	}

	writeSuccess(w, http.StatusOK, row)
}

// handleAPIInsert stores a new row.
// POST /api/rows
func (s *Server) handleAPIInsert(w http.ResponseWriter, r *http.Request) {
	row, err := decodeRow(w, r)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	if err := GetTable(r).Insert(row); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	s.requestLog(r).Debug("row inserted", "id", row.ID)
	writeSuccess(w, http.StatusCreated, row)
}

// handleAPITree returns the structure of the B-tree.
// GET /api/tree
func (s *Server) handleAPITree(w http.ResponseWriter, r *http.Request) {
	tbl := GetTable(r)

	root, err := tbl.Describe()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, TreeResponse{
		NumPages: tbl.NumPages(),
		Root:     root,
	})
}

// handleAPIConstants reports the on-disk layout.
// GET /api/constants
func (s *Server) handleAPIConstants(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, ConstantsResponse{
		RowSize:   table.RowSize,
		Constants: GetTable(r).Layout().Constants(),
	})
}
