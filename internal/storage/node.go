// Package storage - Node codec
//
// EDUCATIONAL NOTES:
// ------------------
// A node is not a separate structure copied out of a page: it is a view over
// the page's bytes. Every accessor computes an offset from the Layout and
// reads or writes the page in place, so a change through one Node is seen by
// anyone else holding the same page.
//
// Integers are stored little-endian.

package storage

import (
	"encoding/binary"
	"fmt"
)

// NodeType tells whether a page holds a leaf or an internal node.
type NodeType uint8

const (
	// NodeInternal holds separator keys and child page numbers.
	NodeInternal NodeType = iota
	// NodeLeaf holds keys and values.
	NodeLeaf
)

func (t NodeType) String() string {
	switch t {
	case NodeInternal:
		return "internal"
	case NodeLeaf:
		return "leaf"
	default:
		return fmt.Sprintf("NodeType(%d)", uint8(t))
	}
}

// Node interprets a page as a B-tree node.
type Node struct {
	page   *Page
	layout *Layout
}

// NewNode returns a node view over page.
func NewNode(page *Page, layout *Layout) Node {
	return Node{page: page, layout: layout}
}

// PageNum returns the number of the underlying page.
func (n Node) PageNum() uint32 {
	return n.page.num
}

func (n Node) u32(offset uint32) uint32 {
	return binary.LittleEndian.Uint32(n.page.data[offset : offset+4])
}

func (n Node) putU32(offset, v uint32) {
	binary.LittleEndian.PutUint32(n.page.data[offset:offset+4], v)
}

// ----------------------------------------------------------------------------
// Common header
// ----------------------------------------------------------------------------

// Type returns the node type.
func (n Node) Type() NodeType {
	return NodeType(n.page.data[NodeTypeOffset])
}

// SetType sets the node type.
func (n Node) SetType(t NodeType) {
	n.page.data[NodeTypeOffset] = byte(t)
}

// IsRoot reports whether this node is the tree's root.
func (n Node) IsRoot() bool {
	return n.page.data[IsRootOffset] != 0
}

// SetRoot sets the root flag.
func (n Node) SetRoot(isRoot bool) {
	var v byte
	if isRoot {
		v = 1
	}
	n.page.data[IsRootOffset] = v
}

// Parent returns the parent page number. Meaningless on the root.
func (n Node) Parent() uint32 {
	return n.u32(ParentPointerOffset)
}

// SetParent sets the parent page number.
func (n Node) SetParent(pageNum uint32) {
	n.putU32(ParentPointerOffset, pageNum)
}

// checkHeader rejects a page whose header could not have been written by the
// tree: an unknown node type, or more cells than the layout allows. Every
// cell accessor trusts the count, so this must pass before a page read from
// disk is used.
func (n Node) checkHeader() error {
	switch t := n.Type(); t {
	case NodeLeaf:
		if numCells := n.LeafNumCells(); numCells > n.layout.LeafNodeMaxCells {
			return newError("read node", ErrCorruptFile, n.page.num,
				fmt.Errorf("leaf has %d cells, max is %d", numCells, n.layout.LeafNodeMaxCells))
		}
	case NodeInternal:
		if numKeys := n.InternalNumKeys(); numKeys > n.layout.InternalNodeMaxKeys {
			return newError("read node", ErrCorruptFile, n.page.num,
				fmt.Errorf("internal node has %d keys, max is %d", numKeys, n.layout.InternalNodeMaxKeys))
		}
	default:
		return newError("read node", ErrCorruptFile, n.page.num, fmt.Errorf("unknown node type %d", uint8(t)))
	}
	return nil
}

// ----------------------------------------------------------------------------
// Leaf nodes
// ----------------------------------------------------------------------------

// InitLeaf formats the node as an empty, non-root leaf.
func (n Node) InitLeaf() {
	n.SetType(NodeLeaf)
	n.SetRoot(false)
	n.SetLeafNumCells(0)
	n.SetLeafNextLeaf(0)
}

// LeafNumCells returns the number of cells in a leaf.
func (n Node) LeafNumCells() uint32 {
	return n.u32(LeafNodeNumCellsOffset)
}

// SetLeafNumCells sets the number of cells in a leaf.
func (n Node) SetLeafNumCells(v uint32) {
	n.putU32(LeafNodeNumCellsOffset, v)
}

// LeafNextLeaf returns the page number of the next leaf to the right, or 0
// if this is the rightmost leaf. Page 0 is always the root, so it can never
// be a right sibling.
func (n Node) LeafNextLeaf() uint32 {
	return n.u32(LeafNodeNextLeafOffset)
}

// SetLeafNextLeaf sets the right sibling pointer.
func (n Node) SetLeafNextLeaf(pageNum uint32) {
	n.putU32(LeafNodeNextLeafOffset, pageNum)
}

func (n Node) leafCellOffset(cellNum uint32) uint32 {
	if cellNum >= n.layout.LeafNodeCapacity {
		panic(fmt.Sprintf("storage: leaf cell %d beyond capacity %d", cellNum, n.layout.LeafNodeCapacity))
	}
	return LeafNodeHeaderSize + cellNum*n.layout.LeafNodeCellSize
}

// LeafCell returns the bytes of a whole leaf cell (key followed by value).
func (n Node) LeafCell(cellNum uint32) []byte {
	off := n.leafCellOffset(cellNum)
	return n.page.data[off : off+n.layout.LeafNodeCellSize]
}

// LeafKey returns the key of a leaf cell.
func (n Node) LeafKey(cellNum uint32) uint32 {
	return n.u32(n.leafCellOffset(cellNum) + LeafNodeKeyOffset)
}

// SetLeafKey sets the key of a leaf cell.
func (n Node) SetLeafKey(cellNum, key uint32) {
	n.putU32(n.leafCellOffset(cellNum)+LeafNodeKeyOffset, key)
}

// LeafValue returns the value bytes of a leaf cell. The slice aliases the page.
func (n Node) LeafValue(cellNum uint32) []byte {
	off := n.leafCellOffset(cellNum) + LeafNodeValueOffset
	return n.page.data[off : off+n.layout.ValueSize]
}

// ----------------------------------------------------------------------------
// Internal nodes
// ----------------------------------------------------------------------------

// InitInternal formats the node as an empty, non-root internal node.
func (n Node) InitInternal() {
	n.SetType(NodeInternal)
	n.SetRoot(false)
	n.SetInternalNumKeys(0)
	n.SetInternalRightChild(0)
}

// InternalNumKeys returns the number of keys in an internal node.
func (n Node) InternalNumKeys() uint32 {
	return n.u32(InternalNodeNumKeysOffset)
}

// SetInternalNumKeys sets the number of keys in an internal node.
func (n Node) SetInternalNumKeys(v uint32) {
	n.putU32(InternalNodeNumKeysOffset, v)
}

// InternalRightChild returns the child holding keys above every separator.
func (n Node) InternalRightChild() uint32 {
	return n.u32(InternalNodeRightChildOffset)
}

// SetInternalRightChild sets the right child pointer.
func (n Node) SetInternalRightChild(pageNum uint32) {
	n.putU32(InternalNodeRightChildOffset, pageNum)
}

func (n Node) internalCellOffset(cellNum uint32) uint32 {
	if cellNum >= n.layout.InternalNodeCapacity {
		panic(fmt.Sprintf("storage: internal cell %d beyond capacity %d", cellNum, n.layout.InternalNodeCapacity))
	}
	return InternalNodeHeaderSize + cellNum*InternalNodeCellSize
}

// InternalCell returns the bytes of an internal cell (child followed by key).
func (n Node) InternalCell(cellNum uint32) []byte {
	off := n.internalCellOffset(cellNum)
	return n.page.data[off : off+InternalNodeCellSize]
}

// InternalKey returns separator key i.
func (n Node) InternalKey(keyNum uint32) uint32 {
	return n.u32(n.internalCellOffset(keyNum) + InternalNodeChildSize)
}

// SetInternalKey sets separator key i.
func (n Node) SetInternalKey(keyNum, key uint32) {
	n.putU32(n.internalCellOffset(keyNum)+InternalNodeChildSize, key)
}

// InternalChild returns child i, where i == num keys means the right child.
func (n Node) InternalChild(childNum uint32) (uint32, error) {
	numKeys := n.InternalNumKeys()
	if childNum > numKeys {
		return 0, newError("internal child", ErrChildIndexOutOfRange, n.page.num,
			fmt.Errorf("child %d > num keys %d", childNum, numKeys))
	}
	if childNum == numKeys {
		return n.InternalRightChild(), nil
	}
	return n.u32(n.internalCellOffset(childNum)), nil
}

// SetInternalChild sets child i, where i == num keys means the right child.
func (n Node) SetInternalChild(childNum, pageNum uint32) error {
	numKeys := n.InternalNumKeys()
	if childNum > numKeys {
		return newError("set internal child", ErrChildIndexOutOfRange, n.page.num,
			fmt.Errorf("child %d > num keys %d", childNum, numKeys))
	}
	if childNum == numKeys {
		n.SetInternalRightChild(pageNum)
		return nil
	}
	n.putU32(n.internalCellOffset(childNum), pageNum)
	return nil
}

// InternalLastKey returns the last separator key. This is not the node's
// maximum key; see BTree.MaxKey.
func (n Node) InternalLastKey() uint32 {
	return n.InternalKey(n.InternalNumKeys() - 1)
}

// InternalFindChild returns the index of the child whose subtree may hold key:
// the first separator >= key, or num keys for the right child.
func (n Node) InternalFindChild(key uint32) uint32 {
	low, high := uint32(0), n.InternalNumKeys()
	for low < high {
		mid := (low + high) / 2
		if n.InternalKey(mid) >= key {
			high = mid
		} else {
			low = mid + 1
		}
	}
	return low
}

// LeafFind returns the index of key in a leaf, or the index where it would be
// inserted to keep the cells sorted.
func (n Node) LeafFind(key uint32) (uint32, bool) {
	low, high := uint32(0), n.LeafNumCells()
	for low < high {
		mid := (low + high) / 2
		k := n.LeafKey(mid)
		if k == key {
			return mid, true
		}
		if key < k {
			high = mid
		} else {
			low = mid + 1
		}
	}
	return low, false
}
