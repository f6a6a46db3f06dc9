// Package storage - B-tree implementation
//
// EDUCATIONAL NOTES:
// ------------------
// B-trees are the backbone of database storage. They're self-balancing tree
// structures that keep keys sorted and allow searches, sequential access and
// insertions in logarithmic time.
//
// Key properties of our tree:
// 1. All leaves are at the same depth (perfectly balanced)
// 2. Each node is exactly one page
// 3. Rows live only in leaves; internal nodes hold separator keys
// 4. Separator key i of an internal node equals the largest key in child i
// 5. Leaves are linked left to right for sequential scans
//
// Insertion is bottom-up: find the leaf, insert if there is room, otherwise
// split the leaf and push a new child pointer into the parent, splitting the
// parent in turn if it is full. When the split reaches the root, the tree
// grows one level by moving the old root's contents to a new page and
// turning page 0 into an internal node. The root therefore never moves.

package storage

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/cabewaldrop/pagedb/internal/logging"
)

// RootPageNum is the page that always holds the root node.
const RootPageNum = 0

// BTree is a disk-backed B-tree of fixed-width values keyed by uint32.
type BTree struct {
	pager    *Pager
	layout   *Layout
	rootPage uint32
	log      *slog.Logger
}

// OpenBTree opens the tree stored in pager, formatting page 0 as an empty
// root leaf if the file is new.
func OpenBTree(pager *Pager) (*BTree, error) {
	bt := &BTree{
		pager:    pager,
		layout:   pager.Layout(),
		rootPage: RootPageNum,
		log:      logging.WithComponent("btree"),
	}

	if pager.NumPages() == 0 {
		root, err := bt.rawNode(RootPageNum)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate root page: %w", err)
		}
		root.InitLeaf()
		root.SetRoot(true)
	}

	return bt, nil
}

// RootPage returns the root page number.
func (bt *BTree) RootPage() uint32 {
	return bt.rootPage
}

// Pager returns the pager backing the tree.
func (bt *BTree) Pager() *Pager {
	return bt.pager
}

// Layout returns the tree's page geometry.
func (bt *BTree) Layout() *Layout {
	return bt.layout
}

// Node returns a view of the given page.
func (bt *BTree) Node(pageNum uint32) (Node, error) {
	return bt.node(pageNum)
}

// node returns a view of a page that already holds a node. A header that is
// out of range for the layout fails with ErrCorruptFile.
func (bt *BTree) node(pageNum uint32) (Node, error) {
	n, err := bt.rawNode(pageNum)
	if err != nil {
		return Node{}, err
	}
	if err := n.checkHeader(); err != nil {
		return Node{}, err
	}
	return n, nil
}

// rawNode skips the header check, for pages about to be formatted.
func (bt *BTree) rawNode(pageNum uint32) (Node, error) {
	page, err := bt.pager.GetPage(pageNum)
	if err != nil {
		return Node{}, err
	}
	return NewNode(page, bt.layout), nil
}

// allocate returns a zeroed page at the next unused page number.
func (bt *BTree) allocate() (Node, error) {
	n, err := bt.rawNode(bt.pager.UnusedPageNum())
	if err != nil {
		return Node{}, err
	}
	clear(n.page.data)
	return n, nil
}

// MaxKey returns the largest key in the subtree rooted at n. For an internal
// node this follows right children down to a leaf, so it is the true maximum
// rather than the last separator.
func (bt *BTree) MaxKey(n Node) (uint32, error) {
	for n.Type() == NodeInternal {
		var err error
		n, err = bt.node(n.InternalRightChild())
		if err != nil {
			return 0, err
		}
	}
	numCells := n.LeafNumCells()
	if numCells == 0 {
		return 0, nil
	}
	return n.LeafKey(numCells - 1), nil
}

// Find returns a cursor at key, or at the position where key would be
// inserted if it is absent.
//
// EDUCATIONAL NOTE:
// -----------------
// At each internal node we binary search the separators for the first one
// that is >= key and follow that child; if every separator is smaller the
// key can only be in the right child. At the leaf a second binary search
// finds the exact cell.
func (bt *BTree) Find(key uint32) (*Cursor, error) {
	pageNum := bt.rootPage
	for {
		n, err := bt.node(pageNum)
		if err != nil {
			return nil, err
		}

		if n.Type() == NodeLeaf {
			cellNum, _ := n.LeafFind(key)
			return &Cursor{
				tree:       bt,
				pageNum:    pageNum,
				cellNum:    cellNum,
				endOfTable: cellNum >= n.LeafNumCells() && n.LeafNextLeaf() == 0,
			}, nil
		}

		pageNum, err = n.InternalChild(n.InternalFindChild(key))
		if err != nil {
			return nil, err
		}
	}
}

// Start returns a cursor at the first cell of the leftmost leaf.
func (bt *BTree) Start() (*Cursor, error) {
	pageNum := bt.rootPage
	for {
		n, err := bt.node(pageNum)
		if err != nil {
			return nil, err
		}

		if n.Type() == NodeLeaf {
			return &Cursor{
				tree:       bt,
				pageNum:    pageNum,
				cellNum:    0,
				endOfTable: n.LeafNumCells() == 0,
			}, nil
		}

		pageNum, err = n.InternalChild(0)
		if err != nil {
			return nil, err
		}
	}
}

// Insert adds a key and its value to the tree.
//
// The value must be exactly Layout.ValueSize bytes. Inserting a key that is
// already present fails with ErrDuplicateKey; if a split would need more
// pages than the pager may address, Insert fails with ErrTableFull. In both
// cases no page is modified.
func (bt *BTree) Insert(key uint32, value []byte) error {
	if uint32(len(value)) != bt.layout.ValueSize {
		return fmt.Errorf("value is %d bytes, expected %d", len(value), bt.layout.ValueSize)
	}

	cursor, err := bt.Find(key)
	if err != nil {
		return err
	}

	leaf, err := bt.node(cursor.pageNum)
	if err != nil {
		return err
	}

	numCells := leaf.LeafNumCells()
	if cursor.cellNum < numCells && leaf.LeafKey(cursor.cellNum) == key {
		return newError("insert", ErrDuplicateKey, cursor.pageNum, fmt.Errorf("key %d", key))
	}

	if numCells < bt.layout.LeafNodeMaxCells {
		bt.leafInsert(leaf, cursor.cellNum, key, value)
		return nil
	}

	if err := bt.reserveSplit(leaf); err != nil {
		return err
	}
	return bt.leafSplitAndInsert(leaf, cursor.cellNum, key, value)
}

// leafInsert inserts into a leaf that is known to have room.
func (bt *BTree) leafInsert(leaf Node, cellNum, key uint32, value []byte) {
	numCells := leaf.LeafNumCells()

	// Shift elements right to make room
	for i := numCells; i > cellNum; i-- {
		copy(leaf.LeafCell(i), leaf.LeafCell(i-1))
	}

	leaf.SetLeafNumCells(numCells + 1)
	leaf.SetLeafKey(cellNum, key)
	copy(leaf.LeafValue(cellNum), value)
}

// reserveSplit checks that every page a split starting at leaf will
// allocate is within the pager's limit: one per full node on the way up,
// plus one more if the split reaches the root.
func (bt *BTree) reserveSplit(leaf Node) error {
	needed := uint32(1)
	n := leaf
	for {
		if n.IsRoot() {
			needed++
			break
		}
		parent, err := bt.node(n.Parent())
		if err != nil {
			return err
		}
		if parent.InternalNumKeys() < bt.layout.InternalNodeMaxKeys {
			break
		}
		needed++
		n = parent
	}

	if next := bt.pager.UnusedPageNum(); next+needed > bt.layout.MaxPages {
		return newError("insert", ErrTableFull, leaf.PageNum(),
			fmt.Errorf("split needs %d pages, %d of %d in use", needed, next, bt.layout.MaxPages))
	}
	return nil
}

// leafSplitAndInsert splits a full leaf and inserts the new cell.
//
// EDUCATIONAL NOTE:
// -----------------
// Think of the old cells plus the new one as a single sorted sequence of
// MaxCells+1 entries. The first LeftSplit entries stay in the old leaf and
// the rest move to a new leaf on its right. We walk that virtual sequence
// from the end so that no old cell is overwritten before it has been copied.
func (bt *BTree) leafSplitAndInsert(old Node, cellNum, key uint32, value []byte) error {
	right, err := bt.allocate()
	if err != nil {
		return err
	}
	right.InitLeaf()
	right.SetParent(old.Parent())
	right.SetLeafNextLeaf(old.LeafNextLeaf())
	old.SetLeafNextLeaf(right.PageNum())

	leftCount := bt.layout.LeafNodeLeftSplit
	for i := int(bt.layout.LeafNodeMaxCells); i >= 0; i-- {
		idx := uint32(i)

		dest, destIdx := old, idx
		if idx >= leftCount {
			dest, destIdx = right, idx-leftCount
		}

		switch {
		case idx == cellNum:
			dest.SetLeafKey(destIdx, key)
			copy(dest.LeafValue(destIdx), value)
		case idx > cellNum:
			copy(dest.LeafCell(destIdx), old.LeafCell(idx-1))
		default:
			copy(dest.LeafCell(destIdx), old.LeafCell(idx))
		}
	}

	old.SetLeafNumCells(leftCount)
	right.SetLeafNumCells(bt.layout.LeafNodeRightSplit)

	bt.log.Debug("split leaf", "page", old.PageNum(), "new_page", right.PageNum(), "key", key)

	if old.IsRoot() {
		return bt.createNewRoot(right.PageNum())
	}
	return bt.insertChildAfter(old.Parent(), old.PageNum(), right.PageNum())
}

// createNewRoot grows the tree by one level.
//
// EDUCATIONAL NOTE:
// -----------------
// The root must stay on page 0, so instead of allocating a new root we copy
// the old root into a fresh page (the new left child) and re-initialize
// page 0 as an internal node with two children.
func (bt *BTree) createNewRoot(rightChildPageNum uint32) error {
	root, err := bt.node(bt.rootPage)
	if err != nil {
		return err
	}
	right, err := bt.node(rightChildPageNum)
	if err != nil {
		return err
	}
	left, err := bt.allocate()
	if err != nil {
		return err
	}

	copy(left.page.data, root.page.data)
	left.SetRoot(false)

	if left.Type() == NodeInternal {
		if err := bt.adoptChildren(left); err != nil {
			return err
		}
	}

	leftMax, err := bt.MaxKey(left)
	if err != nil {
		return err
	}

	root.InitInternal()
	root.SetRoot(true)
	root.SetInternalNumKeys(1)
	if err := root.SetInternalChild(0, left.PageNum()); err != nil {
		return err
	}
	root.SetInternalKey(0, leftMax)
	root.SetInternalRightChild(rightChildPageNum)

	left.SetParent(bt.rootPage)
	right.SetParent(bt.rootPage)

	bt.log.Debug("promoted root", "page", bt.rootPage,
		"left", left.PageNum(), "right", rightChildPageNum, "separator", leftMax)
	return nil
}

// adoptChildren points the parent pointer of every child of n at n.
func (bt *BTree) adoptChildren(n Node) error {
	numKeys := n.InternalNumKeys()
	for i := uint32(0); i <= numKeys; i++ {
		childNum, err := n.InternalChild(i)
		if err != nil {
			return err
		}
		child, err := bt.node(childNum)
		if err != nil {
			return err
		}
		child.SetParent(n.PageNum())
	}
	return nil
}

// childIndex returns the position of childNum among parent's children.
func (bt *BTree) childIndex(parent Node, childNum uint32) (uint32, error) {
	numKeys := parent.InternalNumKeys()
	for i := uint32(0); i <= numKeys; i++ {
		c, err := parent.InternalChild(i)
		if err != nil {
			return 0, err
		}
		if c == childNum {
			return i, nil
		}
	}
	return 0, newError("find child", ErrCorruptFile, parent.PageNum(),
		fmt.Errorf("page %d is not a child", childNum))
}

// insertChildAfter records that leftNum was split and newNum now holds the
// keys directly above it. The separator for leftNum is refreshed and newNum
// is inserted right after it, splitting the parent if it is full.
func (bt *BTree) insertChildAfter(parentNum, leftNum, newNum uint32) error {
	parent, err := bt.node(parentNum)
	if err != nil {
		return err
	}

	numKeys := parent.InternalNumKeys()
	if numKeys >= bt.layout.InternalNodeMaxKeys {
		return bt.internalSplitAndInsert(parent, leftNum, newNum)
	}

	left, err := bt.node(leftNum)
	if err != nil {
		return err
	}
	newChild, err := bt.node(newNum)
	if err != nil {
		return err
	}
	leftMax, err := bt.MaxKey(left)
	if err != nil {
		return err
	}
	newMax, err := bt.MaxKey(newChild)
	if err != nil {
		return err
	}

	idx, err := bt.childIndex(parent, leftNum)
	if err != nil {
		return err
	}

	if idx == numKeys {
		// The split child was the right child: it becomes the last cell.
		parent.SetInternalNumKeys(numKeys + 1)
		if err := parent.SetInternalChild(numKeys, leftNum); err != nil {
			return err
		}
		parent.SetInternalKey(numKeys, leftMax)
		parent.SetInternalRightChild(newNum)
	} else {
		for i := numKeys; i > idx+1; i-- {
			copy(parent.InternalCell(i), parent.InternalCell(i-1))
		}
		parent.SetInternalNumKeys(numKeys + 1)
		parent.SetInternalKey(idx, leftMax)
		if err := parent.SetInternalChild(idx+1, newNum); err != nil {
			return err
		}
		parent.SetInternalKey(idx+1, newMax)
	}

	newChild.SetParent(parentNum)
	return nil
}

// childRef is a child pointer together with the largest key beneath it.
type childRef struct {
	pageNum uint32
	maxKey  uint32
}

// internalSplitAndInsert splits a full internal node while inserting newNum
// right after leftNum.
//
// EDUCATIONAL NOTE:
// -----------------
// An internal node with k keys has k+1 children. Adding one more gives k+2,
// which we divide so the left node keeps the larger half. In each half the
// last child becomes the right child and every other child keeps its maximum
// key as its separator. The largest key of the left half is what the parent
// ends up using to tell the two halves apart: that is the promoted median.
func (bt *BTree) internalSplitAndInsert(old Node, leftNum, newNum uint32) error {
	numKeys := old.InternalNumKeys()

	children := make([]childRef, 0, numKeys+2)
	for i := uint32(0); i < numKeys; i++ {
		c, err := old.InternalChild(i)
		if err != nil {
			return err
		}
		children = append(children, childRef{pageNum: c, maxKey: old.InternalKey(i)})
	}
	rightChild, err := bt.node(old.InternalRightChild())
	if err != nil {
		return err
	}
	rightMax, err := bt.MaxKey(rightChild)
	if err != nil {
		return err
	}
	children = append(children, childRef{pageNum: rightChild.PageNum(), maxKey: rightMax})

	pos := slices.IndexFunc(children, func(c childRef) bool { return c.pageNum == leftNum })
	if pos < 0 {
		return newError("split internal", ErrCorruptFile, old.PageNum(),
			fmt.Errorf("page %d is not a child", leftNum))
	}

	left, err := bt.node(leftNum)
	if err != nil {
		return err
	}
	if children[pos].maxKey, err = bt.MaxKey(left); err != nil {
		return err
	}
	newChild, err := bt.node(newNum)
	if err != nil {
		return err
	}
	newMax, err := bt.MaxKey(newChild)
	if err != nil {
		return err
	}
	children = slices.Insert(children, pos+1, childRef{pageNum: newNum, maxKey: newMax})

	sibling, err := bt.allocate()
	if err != nil {
		return err
	}
	sibling.InitInternal()
	sibling.SetParent(old.Parent())

	split := (len(children) + 1) / 2
	if err := bt.fillInternal(old, children[:split]); err != nil {
		return err
	}
	if err := bt.fillInternal(sibling, children[split:]); err != nil {
		return err
	}

	bt.log.Debug("split internal node", "page", old.PageNum(), "new_page", sibling.PageNum(),
		"separator", children[split-1].maxKey)

	if old.IsRoot() {
		return bt.createNewRoot(sibling.PageNum())
	}
	return bt.insertChildAfter(old.Parent(), old.PageNum(), sibling.PageNum())
}

// fillInternal rewrites n's cells from children and adopts them.
func (bt *BTree) fillInternal(n Node, children []childRef) error {
	last := len(children) - 1
	n.SetInternalNumKeys(uint32(last))
	for i, c := range children[:last] {
		if err := n.SetInternalChild(uint32(i), c.pageNum); err != nil {
			return err
		}
		n.SetInternalKey(uint32(i), c.maxKey)
	}
	n.SetInternalRightChild(children[last].pageNum)
	return bt.adoptChildren(n)
}
