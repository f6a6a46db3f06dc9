package web

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// requestLog returns the server logger tagged with the request ID.
func (s *Server) requestLog(r *http.Request) *slog.Logger {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return s.log.With("request_id", id)
	}
	return s.log
}

// handleHealth returns a simple health check response.
// This endpoint is used by load balancers and monitoring systems.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// indexPage holds data for rendering the index template.
type indexPage struct {
	Rows      []string
	Tree      string
	NumPages  uint32
	Limit     int
	Offset    int
	OffsetEnd int
	HasPrev   bool
	HasNext   bool
	PrevURL   string
	NextURL   string
	Empty     bool
	Error     string
	Hint      string
}

// indexTemplate is the HTML template for the row browser.
var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>pagedb</title>
    <style>
        body { font-family: system-ui, sans-serif; margin: 20px; }
        table { border-collapse: collapse; width: 100%; margin: 20px 0; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f4f4f4; }
        tr:nth-child(even) { background-color: #fafafa; }
        pre { background: #f8f8f8; padding: 10px; }
        .nav { margin: 10px 0; }
        .nav a { margin-right: 10px; padding: 5px 10px; background: #007bff; color: white; text-decoration: none; border-radius: 3px; }
        .nav a.disabled { background: #ccc; pointer-events: none; }
        .empty { color: #666; font-style: italic; }
        .error { color: red; }
    </style>
</head>
<body>
    <h1>pagedb</h1>
    {{if .Error}}
        <p class="error">{{.Error}}</p>
        {{if .Hint}}<p>{{.Hint}}</p>{{end}}
    {{else if .Empty}}
        <p class="empty">This table is empty.</p>
    {{else}}
        <div class="nav">
            {{if .HasPrev}}<a href="{{.PrevURL}}">← Previous</a>{{else}}<a class="disabled">← Previous</a>{{end}}
            {{if .HasNext}}<a href="{{.NextURL}}">Next →</a>{{else}}<a class="disabled">Next →</a>{{end}}
            <span>Showing rows {{.Offset}} - {{.OffsetEnd}} (limit {{.Limit}})</span>
        </div>
        <table>
            <thead>
                <tr><th>row</th></tr>
            </thead>
            <tbody>
                {{range .Rows}}<tr><td>{{.}}</td></tr>{{end}}
            </tbody>
        </table>
    {{end}}
    {{if .Tree}}
        <h2>B-tree ({{.NumPages}} pages)</h2>
        <pre>{{.Tree}}</pre>
    {{end}}
</body>
</html>`))

// handleIndex serves a paginated view of the rows and the tree outline.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tbl := GetTable(r)
	limit, offset := pagination(r)
	page := indexPage{Limit: limit, Offset: offset}

	status := http.StatusOK
	rows, hasMore, err := pageOfRows(tbl, limit, offset)
	if err == nil {
		var tree strings.Builder
		err = tbl.Dump(&tree)
		page.Tree = tree.String()
	}
	if err != nil {
		status = statusForError(err)
		page.Error = err.Error()
		page.Hint = GetErrorHint(err)
	}

	for _, row := range rows {
		page.Rows = append(page.Rows, row.String())
	}
	page.NumPages = tbl.NumPages()
	page.Empty = len(page.Rows) == 0
	page.OffsetEnd = offset + len(page.Rows)
	page.HasPrev = offset > 0
	page.HasNext = hasMore

	if page.HasPrev {
		page.PrevURL = fmt.Sprintf("/?limit=%d&offset=%d", limit, max(offset-limit, 0))
	}
	if page.HasNext {
		page.NextURL = fmt.Sprintf("/?limit=%d&offset=%d", limit, offset+limit)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, page); err != nil {
		s.log.Error("render index", "error", err)
	}
}
