package storage

import (
	"fmt"
	"io"
	"strings"
)

// NodeInfo is a decoded snapshot of one node and its subtree.
type NodeInfo struct {
	Page     uint32      `json:"page"`
	Type     string      `json:"type"`
	IsRoot   bool        `json:"is_root"`
	Parent   uint32      `json:"parent"`
	Keys     []uint32    `json:"keys"`
	NextLeaf uint32      `json:"next_leaf,omitempty"`
	Children []*NodeInfo `json:"children,omitempty"`
}

// Describe returns a snapshot of the whole tree.
func (bt *BTree) Describe() (*NodeInfo, error) {
	return bt.describe(bt.rootPage)
}

func (bt *BTree) describe(pageNum uint32) (*NodeInfo, error) {
	n, err := bt.node(pageNum)
	if err != nil {
		return nil, err
	}

	info := &NodeInfo{
		Page:   pageNum,
		Type:   n.Type().String(),
		IsRoot: n.IsRoot(),
		Parent: n.Parent(),
	}

	if n.Type() == NodeLeaf {
		numCells := n.LeafNumCells()
		info.Keys = make([]uint32, numCells)
		for i := uint32(0); i < numCells; i++ {
			info.Keys[i] = n.LeafKey(i)
		}
		info.NextLeaf = n.LeafNextLeaf()
		return info, nil
	}

	numKeys := n.InternalNumKeys()
	info.Keys = make([]uint32, numKeys)
	for i := uint32(0); i < numKeys; i++ {
		info.Keys[i] = n.InternalKey(i)
	}
	for i := uint32(0); i <= numKeys; i++ {
		childNum, err := n.InternalChild(i)
		if err != nil {
			return nil, err
		}
		child, err := bt.describe(childNum)
		if err != nil {
			return nil, err
		}
		info.Children = append(info.Children, child)
	}
	return info, nil
}

// Dump writes an indented outline of the tree to w:
//
//	- internal (size 1)
//	  - leaf (size 2)
//	    - 1
//	    - 2
//	  - key 2
//	  - leaf (size 2)
//	    - 3
//	    - 4
func (bt *BTree) Dump(w io.Writer) error {
	info, err := bt.Describe()
	if err != nil {
		return err
	}
	return dumpNode(w, info, 0)
}

func dumpNode(w io.Writer, info *NodeInfo, depth int) error {
	indent := strings.Repeat("  ", depth)
	if _, err := fmt.Fprintf(w, "%s- %s (size %d)\n", indent, info.Type, len(info.Keys)); err != nil {
		return err
	}

	if info.Type == NodeLeaf.String() {
		for _, k := range info.Keys {
			if _, err := fmt.Fprintf(w, "%s  - %d\n", indent, k); err != nil {
				return err
			}
		}
		return nil
	}

	for i, child := range info.Children {
		if err := dumpNode(w, child, depth+1); err != nil {
			return err
		}
		if i < len(info.Keys) {
			if _, err := fmt.Fprintf(w, "%s  - key %d\n", indent, info.Keys[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Check walks the whole tree and returns the first structural violation:
// unsorted cells, a separator that differs from its child's maximum, a key
// outside its subtree's range, a wrong parent pointer, a misplaced root
// flag, leaves at different depths, or a broken leaf chain.
func (bt *BTree) Check() error {
	c := &checker{bt: bt, leafDepth: -1}
	if _, _, err := c.walk(bt.rootPage, bt.rootPage, 0, nil, nil); err != nil {
		return err
	}

	// The leaf chain must visit exactly the leaves found by the walk, in order.
	pageNum := bt.rootPage
	if len(c.leaves) > 0 {
		pageNum = c.leaves[0]
	}
	for i := 0; ; i++ {
		if i >= len(c.leaves) {
			return fmt.Errorf("leaf chain longer than %d leaves", len(c.leaves))
		}
		if c.leaves[i] != pageNum {
			return fmt.Errorf("leaf chain: position %d is page %d, expected %d", i, pageNum, c.leaves[i])
		}
		n, err := bt.node(pageNum)
		if err != nil {
			return err
		}
		next := n.LeafNextLeaf()
		if next == 0 {
			if i != len(c.leaves)-1 {
				return fmt.Errorf("leaf chain ends at page %d after %d of %d leaves", pageNum, i+1, len(c.leaves))
			}
			return nil
		}
		pageNum = next
	}
}

type checker struct {
	bt        *BTree
	leafDepth int
	leaves    []uint32
}

// walk validates the subtree at pageNum and returns its min and max keys.
// lower and upper, when set, bound the keys: lower < k <= upper.
func (c *checker) walk(pageNum, parentNum uint32, depth int, lower, upper *uint32) (uint32, uint32, error) {
	n, err := c.bt.node(pageNum)
	if err != nil {
		return 0, 0, err
	}

	isRoot := pageNum == c.bt.rootPage
	if n.IsRoot() != isRoot {
		return 0, 0, fmt.Errorf("page %d: root flag is %v", pageNum, n.IsRoot())
	}
	if !isRoot && n.Parent() != parentNum {
		return 0, 0, fmt.Errorf("page %d: parent is %d, expected %d", pageNum, n.Parent(), parentNum)
	}

	inRange := func(k uint32) bool {
		return (lower == nil || k > *lower) && (upper == nil || k <= *upper)
	}

	switch n.Type() {
	case NodeLeaf:
		if c.leafDepth == -1 {
			c.leafDepth = depth
		} else if c.leafDepth != depth {
			return 0, 0, fmt.Errorf("page %d: leaf at depth %d, others at %d", pageNum, depth, c.leafDepth)
		}
		c.leaves = append(c.leaves, pageNum)

		numCells := n.LeafNumCells()
		if numCells == 0 {
			if !isRoot {
				return 0, 0, fmt.Errorf("page %d: empty non-root leaf", pageNum)
			}
			return 0, 0, nil
		}
		for i := uint32(0); i < numCells; i++ {
			k := n.LeafKey(i)
			if !inRange(k) {
				return 0, 0, fmt.Errorf("page %d: key %d outside its subtree range", pageNum, k)
			}
			if i > 0 && n.LeafKey(i-1) >= k {
				return 0, 0, fmt.Errorf("page %d: keys %d and %d out of order", pageNum, n.LeafKey(i-1), k)
			}
		}
		return n.LeafKey(0), n.LeafKey(numCells - 1), nil

	case NodeInternal:
		numKeys := n.InternalNumKeys()
		var minKey, maxKey uint32
		prev := lower
		for i := uint32(0); i <= numKeys; i++ {
			childNum, err := n.InternalChild(i)
			if err != nil {
				return 0, 0, err
			}

			childUpper := upper
			if i < numKeys {
				sep := n.InternalKey(i)
				if i > 0 && n.InternalKey(i-1) >= sep {
					return 0, 0, fmt.Errorf("page %d: separators %d and %d out of order", pageNum, n.InternalKey(i-1), sep)
				}
				childUpper = &sep
			}

			lo, hi, err := c.walk(childNum, pageNum, depth+1, prev, childUpper)
			if err != nil {
				return 0, 0, err
			}

			if i < numKeys && hi != n.InternalKey(i) {
				return 0, 0, fmt.Errorf("page %d: separator %d but child %d has max %d", pageNum, n.InternalKey(i), childNum, hi)
			}
			if i == numKeys && numKeys > 0 && hi <= n.InternalKey(numKeys-1) {
				return 0, 0, fmt.Errorf("page %d: right child max %d not above last separator %d", pageNum, hi, n.InternalKey(numKeys-1))
			}

			if i == 0 {
				minKey = lo
			}
			maxKey = hi
			if i < numKeys {
				sep := n.InternalKey(i)
				prev = &sep
			}
		}
		return minKey, maxKey, nil

	default:
		return 0, 0, fmt.Errorf("page %d: unknown node type %d", pageNum, n.Type())
	}
}
