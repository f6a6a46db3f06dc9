// Package table implements the row store on top of the storage engine.
//
// EDUCATIONAL NOTES:
// ------------------
// A table here is a single B-tree: each row is stored in exactly one leaf
// cell, keyed by its ID. The table owns the pager (and through it the file),
// serializes rows into fixed-width cell values, and turns B-tree cursors into
// a stream of rows.
//
// The whole public surface is:
//   Open   - open or create the file
//   Insert - add one row
//   Find   - point lookup by ID
//   Rows   - iterate every row in ID order
//   Close  - flush every page and release the file

package table

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"sync"

	"github.com/cabewaldrop/pagedb/internal/logging"
	"github.com/cabewaldrop/pagedb/internal/storage"
)

// ErrClosed is returned by every operation on a closed table.
var ErrClosed = errors.New("table is closed")

// Options tunes how a table file is laid out.
type Options struct {
	// Storage overrides page geometry. ValueSize is always RowSize.
	Storage storage.Config
}

// Table is the handle callers hold on an open database file.
//
// All methods are safe for concurrent use; they are serialized by a single
// mutex since the engine underneath supports one writer at a time.
type Table struct {
	mu     sync.Mutex
	path   string
	pager  *storage.Pager
	btree  *storage.BTree
	closed bool
	log    *slog.Logger

	// inserts counts calls that reached the B-tree. A scan holding a cursor
	// compares it to tell whether the cursor may have been split away.
	inserts uint64
}

// Open opens the table stored at path, creating an empty one if the file
// does not exist.
func Open(path string, opts Options) (*Table, error) {
	cfg := opts.Storage
	cfg.ValueSize = RowSize

	layout, err := storage.NewLayout(cfg)
	if err != nil {
		return nil, err
	}

	pager, err := storage.OpenPager(path, layout)
	if err != nil {
		return nil, fmt.Errorf("failed to open database file: %w", err)
	}

	btree, err := storage.OpenBTree(pager)
	if err != nil {
		pager.Close()
		return nil, fmt.Errorf("failed to open B-tree: %w", err)
	}

	t := &Table{
		path:  path,
		pager: pager,
		btree: btree,
		log:   logging.WithComponent("table").With("path", path),
	}
	t.log.Info("table opened", "pages", pager.NumPages())
	return t, nil
}

// Insert validates row and stores it under row.ID.
//
// Returns storage.ErrDuplicateKey if the ID is taken and storage.ErrTableFull
// if the file has no room for the split the insert needs.
func (t *Table) Insert(row Row) error {
	if err := row.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	buf := make([]byte, RowSize)
	SerializeRow(row, buf)
	t.inserts++
	return t.btree.Insert(row.ID, buf)
}

// Find looks up a row by ID.
func (t *Table) Find(id uint32) (Row, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Row{}, false, ErrClosed
	}

	cursor, err := t.btree.Find(id)
	if err != nil {
		return Row{}, false, err
	}
	row, ok, err := rowAt(cursor)
	if err != nil || !ok || row.ID != id {
		// The cursor sits on an insertion point, not a row.
		return Row{}, false, err
	}
	return row, true, nil
}

// Rows returns a lazy sequence of every row in ID order.
//
// Each call starts a fresh scan from the leftmost leaf and walks the leaf
// chain with a cursor. The table lock is taken per row, not for the whole
// loop, so the loop body may call other table methods. If an insert ran since
// the last row, the cursor is dropped and the scan seeks just past the last
// ID instead; rows inserted during the scan are seen if their ID is still
// ahead of it.
//
//	for row, err := range tbl.Rows() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(row)
//	}
func (t *Table) Rows() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		s := &scan{t: t}
		for {
			row, ok, err := s.next()
			if err != nil {
				yield(Row{}, err)
				return
			}
			if !ok || !yield(row, nil) {
				return
			}
		}
	}
}

// scan is the state of one Rows loop between steps.
type scan struct {
	t       *Table
	cursor  *storage.Cursor
	inserts uint64
	lastID  uint32
}

// next returns the row after the last one returned, or false at the end.
func (s *scan) next() (Row, bool, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Row{}, false, ErrClosed
	}

	var err error
	switch {
	case s.cursor == nil:
		s.cursor, err = t.btree.Start()
	case s.inserts != t.inserts:
		if s.lastID == math.MaxUint32 {
			return Row{}, false, nil
		}
		s.cursor, err = t.btree.Find(s.lastID + 1)
	default:
		err = s.cursor.Advance()
	}
	if err != nil {
		return Row{}, false, err
	}
	s.inserts = t.inserts

	row, ok, err := rowAt(s.cursor)
	if err != nil || !ok {
		return Row{}, false, err
	}
	s.lastID = row.ID
	return row, true, nil
}

// rowAt decodes the row under cursor. Caller must hold the lock.
func rowAt(cursor *storage.Cursor) (Row, bool, error) {
	if cursor.EndOfTable() {
		return Row{}, false, nil
	}
	value, err := cursor.Value()
	if err != nil {
		return Row{}, false, err
	}
	return DeserializeRow(value), true, nil
}

// Select collects every row in ID order.
func (t *Table) Select() ([]Row, error) {
	var rows []Row
	for row, err := range t.Rows() {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Layout returns the page geometry of the file.
func (t *Table) Layout() *storage.Layout {
	return t.btree.Layout()
}

// NumPages returns the number of pages in use.
func (t *Table) NumPages() uint32 {
	return t.pager.NumPages()
}

// Describe returns a snapshot of the B-tree.
func (t *Table) Describe() (*storage.NodeInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	return t.btree.Describe()
}

// Dump writes an outline of the B-tree to w.
func (t *Table) Dump(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return t.btree.Dump(w)
}

// Check verifies the B-tree's structural invariants.
func (t *Table) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return t.btree.Check()
}

// Close flushes every loaded page and closes the file. Closing twice is a no-op.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.pager.Close(); err != nil {
		return fmt.Errorf("failed to close table: %w", err)
	}
	t.log.Info("table closed")
	return nil
}
