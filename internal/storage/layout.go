// Package storage implements a single-file, paged B-tree storage engine.
//
// EDUCATIONAL NOTES:
// ------------------
// The database file is a flat sequence of fixed-size pages. There is no file
// header: page 0 is always the root of the tree and every page describes
// itself through a small node header.
//
// All byte offsets used by the node codec are derived once, here, from the
// page size and the width of the value stored in each leaf cell. Nothing else
// in the package hard-codes an offset.
//
// Common node header (6 bytes):
// +-------------------+
// | node type    (1)  |
// | is root      (1)  |
// | parent page  (4)  |
// +-------------------+
//
// Leaf node:
// +-------------------+-------------------+---------------------------+
// | common header (6) | num cells (4)     | next leaf (4)             |
// +-------------------+-------------------+---------------------------+
// | cell 0: key (4) + value (ValueSize) | cell 1 | ...                 |
// +---------------------------------------------------------------------+
//
// Internal node:
// +-------------------+-------------------+---------------------------+
// | common header (6) | num keys (4)      | right child (4)           |
// +-------------------+-------------------+---------------------------+
// | cell 0: child (4) + key (4) | cell 1 | ...                         |
// +---------------------------------------------------------------------+

package storage

import (
	"fmt"
)

const (
	// DefaultPageSize matches the OS page size on most systems.
	DefaultPageSize = 4096

	// DefaultMaxPages is the hard ceiling on pages per file.
	DefaultMaxPages = 100
)

// Common node header.
const (
	NodeTypeSize         = 1
	NodeTypeOffset       = 0
	IsRootSize           = 1
	IsRootOffset         = NodeTypeOffset + NodeTypeSize
	ParentPointerSize    = 4
	ParentPointerOffset  = IsRootOffset + IsRootSize
	CommonNodeHeaderSize = NodeTypeSize + IsRootSize + ParentPointerSize
	pageNumSize          = 4
	keySize              = 4
	minCellsForSplit     = 2
)

// Leaf node header and cell.
const (
	LeafNodeNumCellsSize   = 4
	LeafNodeNumCellsOffset = CommonNodeHeaderSize
	LeafNodeNextLeafSize   = pageNumSize
	LeafNodeNextLeafOffset = LeafNodeNumCellsOffset + LeafNodeNumCellsSize
	LeafNodeHeaderSize     = CommonNodeHeaderSize + LeafNodeNumCellsSize + LeafNodeNextLeafSize
	LeafNodeKeySize        = keySize
	LeafNodeKeyOffset      = 0
	LeafNodeValueOffset    = LeafNodeKeyOffset + LeafNodeKeySize
)

// Internal node header and cell.
const (
	InternalNodeNumKeysSize      = 4
	InternalNodeNumKeysOffset    = CommonNodeHeaderSize
	InternalNodeRightChildSize   = pageNumSize
	InternalNodeRightChildOffset = InternalNodeNumKeysOffset + InternalNodeNumKeysSize
	InternalNodeHeaderSize       = CommonNodeHeaderSize + InternalNodeNumKeysSize + InternalNodeRightChildSize
	InternalNodeChildSize        = pageNumSize
	InternalNodeKeySize          = keySize
	InternalNodeCellSize         = InternalNodeChildSize + InternalNodeKeySize
)

// Config holds the tunable geometry of a database file.
// Zero fields take their defaults in NewLayout.
type Config struct {
	// PageSize is the size of each page in bytes.
	PageSize uint32

	// ValueSize is the fixed width of the value stored in each leaf cell.
	ValueSize uint32

	// MaxPages is the maximum number of pages the pager will ever address.
	MaxPages uint32

	// MaxLeafCells caps the cells per leaf below the page capacity.
	MaxLeafCells uint32

	// MaxInternalKeys caps the keys per internal node below the page capacity.
	MaxInternalKeys uint32
}

// Layout is the validated, derived byte geometry of a database file.
type Layout struct {
	PageSize  uint32
	ValueSize uint32
	MaxPages  uint32

	LeafNodeCellSize      uint32
	LeafNodeSpaceForCells uint32
	LeafNodeCapacity      uint32
	LeafNodeMaxCells      uint32
	LeafNodeLeftSplit     uint32
	LeafNodeRightSplit    uint32

	InternalNodeSpaceForCells uint32
	InternalNodeCapacity      uint32
	InternalNodeMaxKeys       uint32
}

// NewLayout validates cfg and derives every offset and capacity from it.
func NewLayout(cfg Config) (*Layout, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.ValueSize == 0 {
		return nil, fmt.Errorf("%w: value size must be positive", ErrInvalidConfig)
	}

	l := &Layout{
		PageSize:         cfg.PageSize,
		ValueSize:        cfg.ValueSize,
		MaxPages:         cfg.MaxPages,
		LeafNodeCellSize: LeafNodeKeySize + cfg.ValueSize,
	}

	if l.PageSize < LeafNodeHeaderSize || l.PageSize < InternalNodeHeaderSize {
		return nil, fmt.Errorf("%w: page size %d smaller than node header", ErrInvalidConfig, l.PageSize)
	}

	l.LeafNodeSpaceForCells = l.PageSize - LeafNodeHeaderSize
	l.LeafNodeCapacity = l.LeafNodeSpaceForCells / l.LeafNodeCellSize
	if l.LeafNodeCapacity < minCellsForSplit {
		return nil, fmt.Errorf("%w: page size %d holds %d cells of %d bytes, need at least %d",
			ErrInvalidConfig, l.PageSize, l.LeafNodeCapacity, l.LeafNodeCellSize, minCellsForSplit)
	}

	l.InternalNodeSpaceForCells = l.PageSize - InternalNodeHeaderSize
	l.InternalNodeCapacity = l.InternalNodeSpaceForCells / InternalNodeCellSize
	if l.InternalNodeCapacity < minCellsForSplit {
		return nil, fmt.Errorf("%w: page size %d holds %d internal keys, need at least %d",
			ErrInvalidConfig, l.PageSize, l.InternalNodeCapacity, minCellsForSplit)
	}

	l.LeafNodeMaxCells = l.LeafNodeCapacity
	if cfg.MaxLeafCells != 0 {
		if cfg.MaxLeafCells < minCellsForSplit || cfg.MaxLeafCells > l.LeafNodeCapacity {
			return nil, fmt.Errorf("%w: max leaf cells %d outside [%d, %d]",
				ErrInvalidConfig, cfg.MaxLeafCells, minCellsForSplit, l.LeafNodeCapacity)
		}
		l.LeafNodeMaxCells = cfg.MaxLeafCells
	}

	l.InternalNodeMaxKeys = l.InternalNodeCapacity
	if cfg.MaxInternalKeys != 0 {
		if cfg.MaxInternalKeys < minCellsForSplit || cfg.MaxInternalKeys > l.InternalNodeCapacity {
			return nil, fmt.Errorf("%w: max internal keys %d outside [%d, %d]",
				ErrInvalidConfig, cfg.MaxInternalKeys, minCellsForSplit, l.InternalNodeCapacity)
		}
		l.InternalNodeMaxKeys = cfg.MaxInternalKeys
	}

	// A full leaf plus the incoming cell is split so the left half gets the extra cell.
	l.LeafNodeLeftSplit = (l.LeafNodeMaxCells + 2) / 2
	l.LeafNodeRightSplit = l.LeafNodeMaxCells + 1 - l.LeafNodeLeftSplit

	return l, nil
}

// Constants is a flat, printable view of the layout.
type Constants struct {
	PageSize               uint32 `json:"page_size"`
	MaxPages               uint32 `json:"max_pages"`
	ValueSize              uint32 `json:"value_size"`
	CommonNodeHeaderSize   uint32 `json:"common_node_header_size"`
	LeafNodeHeaderSize     uint32 `json:"leaf_node_header_size"`
	LeafNodeCellSize       uint32 `json:"leaf_node_cell_size"`
	LeafNodeSpaceForCells  uint32 `json:"leaf_node_space_for_cells"`
	LeafNodeMaxCells       uint32 `json:"leaf_node_max_cells"`
	InternalNodeHeaderSize uint32 `json:"internal_node_header_size"`
	InternalNodeCellSize   uint32 `json:"internal_node_cell_size"`
	InternalNodeMaxKeys    uint32 `json:"internal_node_max_keys"`
}

// Constants returns the layout's sizes for display.
func (l *Layout) Constants() Constants {
	return Constants{
		PageSize:               l.PageSize,
		MaxPages:               l.MaxPages,
		ValueSize:              l.ValueSize,
		CommonNodeHeaderSize:   CommonNodeHeaderSize,
		LeafNodeHeaderSize:     LeafNodeHeaderSize,
		LeafNodeCellSize:       l.LeafNodeCellSize,
		LeafNodeSpaceForCells:  l.LeafNodeSpaceForCells,
		LeafNodeMaxCells:       l.LeafNodeMaxCells,
		InternalNodeHeaderSize: InternalNodeHeaderSize,
		InternalNodeCellSize:   InternalNodeCellSize,
		InternalNodeMaxKeys:    l.InternalNodeMaxKeys,
	}
}
