package storage

import (
	"fmt"
)

// Cursor is a position (page, cell) in the tree's leaves.
//
// A cursor does not own anything and is not persisted. Any insert that splits
// the page it points at invalidates it; obtain a new one from BTree.Find or
// BTree.Start afterwards.
type Cursor struct {
	tree       *BTree
	pageNum    uint32
	cellNum    uint32
	endOfTable bool
}

// PageNum returns the leaf page the cursor points into.
func (c *Cursor) PageNum() uint32 {
	return c.pageNum
}

// CellNum returns the cell index within the leaf.
func (c *Cursor) CellNum() uint32 {
	return c.cellNum
}

// EndOfTable reports whether the cursor has moved past the last row.
func (c *Cursor) EndOfTable() bool {
	return c.endOfTable
}

func (c *Cursor) leaf() (Node, error) {
	n, err := c.tree.node(c.pageNum)
	if err != nil {
		return Node{}, err
	}
	if c.cellNum >= n.LeafNumCells() {
		return Node{}, fmt.Errorf("cursor at page %d cell %d: no such cell", c.pageNum, c.cellNum)
	}
	return n, nil
}

// Key returns the key of the current cell.
func (c *Cursor) Key() (uint32, error) {
	n, err := c.leaf()
	if err != nil {
		return 0, err
	}
	return n.LeafKey(c.cellNum), nil
}

// Value returns the value bytes of the current cell. The slice aliases the
// page buffer: copy or decode it before the next insert.
func (c *Cursor) Value() ([]byte, error) {
	n, err := c.leaf()
	if err != nil {
		return nil, err
	}
	return n.LeafValue(c.cellNum), nil
}

// Advance moves to the next cell, following the leaf chain into the next
// leaf when the current one is exhausted.
func (c *Cursor) Advance() error {
	n, err := c.tree.node(c.pageNum)
	if err != nil {
		return err
	}

	c.cellNum++
	for c.cellNum >= n.LeafNumCells() {
		next := n.LeafNextLeaf()
		if next == 0 {
			// This was the rightmost leaf
			c.endOfTable = true
			return nil
		}

		if n, err = c.tree.node(next); err != nil {
			return err
		}
		c.pageNum = next
		c.cellNum = 0
	}
	return nil
}
