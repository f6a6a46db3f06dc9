// Package web - Table middleware
//
// EDUCATIONAL NOTES:
// ------------------
// Middleware in Go HTTP servers wraps handlers to add cross-cutting concerns.
// Context-based dependency injection is a common pattern:
//
// 1. Outer middleware injects dependencies into request context
// 2. Handlers retrieve dependencies from context when needed
// 3. Inner middleware can require dependencies and fail fast if missing

package web

import (
	"context"
	"net/http"

	"github.com/cabewaldrop/pagedb/internal/table"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const tableKey contextKey = "table"

// WithTable returns middleware that injects tbl into the request context.
// Handlers retrieve it with GetTable.
//
//	router.Use(WithTable(tbl))
//	router.Get("/rows", func(w http.ResponseWriter, r *http.Request) {
//	    rows, err := GetTable(r).Select()
//	    // ...
//	})
func WithTable(tbl *table.Table) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), tableKey, tbl)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTable retrieves the table from the request context, or nil if
// WithTable was not applied.
func GetTable(r *http.Request) *table.Table {
	tbl, ok := r.Context().Value(tableKey).(*table.Table)
	if !ok {
		return nil
	}
	return tbl
}

// RequireTable rejects requests with 503 when no table is in the context.
// Routes behind it may call GetTable without a nil check.
func RequireTable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetTable(r) == nil {
			writeError(w, http.StatusServiceUnavailable, "database not available")
			return
		}
		next.ServeHTTP(w, r)
	})
}
