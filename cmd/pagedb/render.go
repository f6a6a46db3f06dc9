package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cabewaldrop/pagedb/internal/storage"
	"github.com/cabewaldrop/pagedb/internal/table"
)

// styles colour REPL output. The renderer is bound to the output writer, so
// nothing is coloured when it is not a terminal.
type styles struct {
	heading  lipgloss.Style
	internal lipgloss.Style
	leaf     lipgloss.Style
	key      lipgloss.Style
	label    lipgloss.Style
	err      lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		heading:  r.NewStyle().Bold(true),
		internal: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}).Bold(true),
		leaf:     r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#40A02B", Dark: "#A6E3A1"}),
		key:      r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#DF8E1D", Dark: "#F9E2AF"}),
		label:    r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6C6F85", Dark: "#A6ADC8"}),
		err:      r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D20F39", Dark: "#F38BA8"}),
	}
}

// tree renders the same outline as BTree.Dump, with node kinds coloured.
func (s styles) tree(info *storage.NodeInfo) string {
	var b strings.Builder
	s.writeNode(&b, info, 0)
	return b.String()
}

func (s styles) writeNode(b *strings.Builder, info *storage.NodeInfo, depth int) {
	indent := strings.Repeat("  ", depth)
	header := fmt.Sprintf("%s (size %d)", info.Type, len(info.Keys))

	if info.Type == storage.NodeLeaf.String() {
		fmt.Fprintf(b, "%s- %s\n", indent, s.leaf.Render(header))
		for _, k := range info.Keys {
			fmt.Fprintf(b, "%s  - %d\n", indent, k)
		}
		return
	}

	fmt.Fprintf(b, "%s- %s\n", indent, s.internal.Render(header))
	for i, child := range info.Children {
		s.writeNode(b, child, depth+1)
		if i < len(info.Keys) {
			fmt.Fprintf(b, "%s  - %s\n", indent, s.key.Render(fmt.Sprintf("key %d", info.Keys[i])))
		}
	}
}

// constants renders one NAME: value line per layout constant.
func (s styles) constants(c storage.Constants) string {
	lines := []struct {
		name  string
		value uint32
	}{
		{"ROW_SIZE", table.RowSize},
		{"COMMON_NODE_HEADER_SIZE", c.CommonNodeHeaderSize},
		{"LEAF_NODE_HEADER_SIZE", c.LeafNodeHeaderSize},
		{"LEAF_NODE_CELL_SIZE", c.LeafNodeCellSize},
		{"LEAF_NODE_SPACE_FOR_CELLS", c.LeafNodeSpaceForCells},
		{"LEAF_NODE_MAX_CELLS", c.LeafNodeMaxCells},
		{"INTERNAL_NODE_HEADER_SIZE", c.InternalNodeHeaderSize},
		{"INTERNAL_NODE_CELL_SIZE", c.InternalNodeCellSize},
		{"INTERNAL_NODE_MAX_KEYS", c.InternalNodeMaxKeys},
	}

	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s: %d\n", s.label.Render(l.name), l.value)
	}
	return b.String()
}
