package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/cabewaldrop/pagedb/internal/logging"
)

// smallFanout forces splits after a handful of inserts.
var smallFanout = Config{MaxLeafCells: 3, MaxInternalKeys: 3, MaxPages: 1000}

func TestBTreeNewRootIsEmptyLeaf(t *testing.T) {
	bt := newTestTree(t, Config{})

	if bt.RootPage() != RootPageNum {
		t.Errorf("expected root page %d, got %d", RootPageNum, bt.RootPage())
	}

	root, err := bt.Node(bt.RootPage())
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	if root.Type() != NodeLeaf || !root.IsRoot() || root.LeafNumCells() != 0 {
		t.Errorf("expected empty root leaf, got %v root=%v cells=%d", root.Type(), root.IsRoot(), root.LeafNumCells())
	}

	cursor, err := bt.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !cursor.EndOfTable() {
		t.Error("cursor on empty tree should be at end of table")
	}
}

func TestBTreeInsertSorted(t *testing.T) {
	bt := newTestTree(t, Config{})

	mustInsert(t, bt, 3, 1, 2, 5, 4)

	if got := scanKeys(t, bt); !slices.Equal(got, []uint32{1, 2, 3, 4, 5}) {
		t.Errorf("expected sorted keys, got %v", got)
	}
	if err := bt.Check(); err != nil {
		t.Errorf("Check failed: %v", err)
	}
}

func TestBTreeLeafSplitPromotesRoot(t *testing.T) {
	bt := newTestTree(t, Config{MaxLeafCells: 3})

	mustInsert(t, bt, 3, 1, 2)

	root, err := bt.Node(bt.RootPage())
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	if root.Type() != NodeLeaf || root.LeafNumCells() != 3 {
		t.Fatalf("expected full root leaf before split")
	}

	mustInsert(t, bt, 4)

	if root.Type() != NodeInternal {
		t.Fatalf("root should be internal after split")
	}
	if !root.IsRoot() {
		t.Error("root flag should be set")
	}
	if root.InternalNumKeys() != 1 {
		t.Fatalf("expected 1 key, got %d", root.InternalNumKeys())
	}
	if root.InternalKey(0) != 2 {
		t.Errorf("expected separator 2, got %d", root.InternalKey(0))
	}

	leftNum, err := root.InternalChild(0)
	if err != nil {
		t.Fatalf("InternalChild failed: %v", err)
	}
	left, err := bt.Node(leftNum)
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	right, err := bt.Node(root.InternalRightChild())
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}

	for _, tc := range []struct {
		name string
		node Node
		keys []uint32
	}{
		{"left", left, []uint32{1, 2}},
		{"right", right, []uint32{3, 4}},
	} {
		if tc.node.Type() != NodeLeaf || tc.node.IsRoot() {
			t.Errorf("%s: expected non-root leaf", tc.name)
		}
		if tc.node.Parent() != bt.RootPage() {
			t.Errorf("%s: parent %d, expected %d", tc.name, tc.node.Parent(), bt.RootPage())
		}
		var keys []uint32
		for i := uint32(0); i < tc.node.LeafNumCells(); i++ {
			keys = append(keys, tc.node.LeafKey(i))
		}
		if !slices.Equal(keys, tc.keys) {
			t.Errorf("%s: expected keys %v, got %v", tc.name, tc.keys, keys)
		}
	}

	if left.LeafNextLeaf() != right.PageNum() || right.LeafNextLeaf() != 0 {
		t.Errorf("leaf chain broken: left.next=%d right.next=%d", left.LeafNextLeaf(), right.LeafNextLeaf())
	}

	if got := scanKeys(t, bt); !slices.Equal(got, []uint32{1, 2, 3, 4}) {
		t.Errorf("expected 1..4, got %v", got)
	}
	if err := bt.Check(); err != nil {
		t.Errorf("Check failed: %v", err)
	}
}

func TestBTreeDuplicateKey(t *testing.T) {
	bt := newTestTree(t, Config{MaxLeafCells: 3})

	mustInsert(t, bt, 1, 2, 3)
	before := slices.Clone(bt.pager.cache[0].data)
	pages := bt.pager.NumPages()

	err := bt.Insert(2, testValue(99))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if IsFatal(err) {
		t.Error("duplicate key should not be fatal")
	}

	if !bytes.Equal(before, bt.pager.cache[0].data) {
		t.Error("rejected insert should not modify the leaf")
	}
	if bt.pager.NumPages() != pages {
		t.Error("rejected insert should not allocate pages")
	}

	// Duplicates are also caught after the tree has grown.
	mustInsert(t, bt, 4, 5, 6, 7)
	for _, k := range []uint32{1, 4, 7} {
		if err := bt.Insert(k, testValue(k)); !errors.Is(err, ErrDuplicateKey) {
			t.Errorf("key %d: expected ErrDuplicateKey, got %v", k, err)
		}
	}
}

func TestBTreeValueSize(t *testing.T) {
	bt := newTestTree(t, Config{})

	if err := bt.Insert(1, []byte("short")); err == nil {
		t.Error("expected error for wrong value size")
	}
}

func TestBTreeFind(t *testing.T) {
	bt := newTestTree(t, smallFanout)

	for k := uint32(2); k <= 60; k += 2 {
		mustInsert(t, bt, k)
	}

	for k := uint32(2); k <= 60; k += 2 {
		cursor, err := bt.Find(k)
		if err != nil {
			t.Fatalf("Find %d failed: %v", k, err)
		}
		got, err := cursor.Key()
		if err != nil {
			t.Fatalf("Key failed: %v", err)
		}
		if got != k {
			t.Errorf("Find %d landed on %d", k, got)
		}
		v, err := cursor.Value()
		if err != nil {
			t.Fatalf("Value failed: %v", err)
		}
		if !bytes.Equal(v, testValue(k)) {
			t.Errorf("Find %d: wrong value", k)
		}
	}

	// Missing keys land on the insertion point.
	for k := uint32(1); k < 60; k += 2 {
		cursor, err := bt.Find(k)
		if err != nil {
			t.Fatalf("Find %d failed: %v", k, err)
		}
		leaf, err := bt.Node(cursor.PageNum())
		if err != nil {
			t.Fatalf("Node failed: %v", err)
		}
		if cursor.CellNum() < leaf.LeafNumCells() {
			if got := leaf.LeafKey(cursor.CellNum()); got <= k {
				t.Errorf("Find %d: cell key %d should be above the target", k, got)
			}
		}
		if cursor.CellNum() > 0 {
			if got := leaf.LeafKey(cursor.CellNum() - 1); got >= k {
				t.Errorf("Find %d: previous key %d should be below the target", k, got)
			}
		}
	}

	// A key above everything lands past the last cell of the last leaf.
	cursor, err := bt.Find(1000)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !cursor.EndOfTable() {
		t.Error("find past the maximum should be at end of table")
	}
}

func TestBTreeManyInsertsRandomOrder(t *testing.T) {
	bt := newTestTree(t, smallFanout)

	rng := rand.New(rand.NewSource(42))
	keys := rng.Perm(300)

	for i, k := range keys {
		mustInsert(t, bt, uint32(k))
		if err := bt.Check(); err != nil {
			t.Fatalf("after %d inserts (key %d): %v", i+1, k, err)
		}
	}

	got := scanKeys(t, bt)
	if len(got) != len(keys) {
		t.Fatalf("expected %d keys, got %d", len(keys), len(got))
	}
	for i, k := range got {
		if k != uint32(i) {
			t.Fatalf("position %d: expected key %d, got %d", i, i, k)
		}
	}

	info, err := bt.Describe()
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if depth := treeDepth(info); depth < 4 {
		t.Errorf("expected internal splits to build at least 4 levels, got %d", depth)
	}
}

func TestBTreeSequentialInserts(t *testing.T) {
	for _, order := range []string{"ascending", "descending"} {
		t.Run(order, func(t *testing.T) {
			bt := newTestTree(t, smallFanout)

			const n = 200
			for i := uint32(0); i < n; i++ {
				k := i
				if order == "descending" {
					k = n - 1 - i
				}
				mustInsert(t, bt, k)
			}

			if err := bt.Check(); err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			got := scanKeys(t, bt)
			if len(got) != n || got[0] != 0 || got[n-1] != n-1 {
				t.Errorf("unexpected scan: len=%d", len(got))
			}
		})
	}
}

func TestBTreeMaxKeyIsSubtreeMaximum(t *testing.T) {
	bt := newTestTree(t, smallFanout)

	rng := rand.New(rand.NewSource(7))
	for _, k := range rng.Perm(120) {
		mustInsert(t, bt, uint32(k))
	}

	var visit func(pageNum uint32) uint32
	visit = func(pageNum uint32) uint32 {
		n, err := bt.Node(pageNum)
		if err != nil {
			t.Fatalf("Node failed: %v", err)
		}

		var trueMax uint32
		if n.Type() == NodeLeaf {
			trueMax = n.LeafKey(n.LeafNumCells() - 1)
		} else {
			for i := uint32(0); i <= n.InternalNumKeys(); i++ {
				c, err := n.InternalChild(i)
				if err != nil {
					t.Fatalf("InternalChild failed: %v", err)
				}
				trueMax = max(trueMax, visit(c))
			}
			// The last separator bounds the left part only.
			if n.InternalLastKey() >= trueMax {
				t.Errorf("page %d: last separator %d should be below max %d", pageNum, n.InternalLastKey(), trueMax)
			}
		}

		got, err := bt.MaxKey(n)
		if err != nil {
			t.Fatalf("MaxKey failed: %v", err)
		}
		if got != trueMax {
			t.Errorf("page %d: MaxKey %d, true maximum %d", pageNum, got, trueMax)
		}
		return trueMax
	}
	visit(bt.RootPage())
}

func TestBTreeTableFull(t *testing.T) {
	bt := newTestTree(t, Config{MaxLeafCells: 3, MaxInternalKeys: 3, MaxPages: 4})

	// Pages: root split uses 1 and 2, the split at key 6 uses 3.
	mustInsert(t, bt, 1, 2, 3, 4, 5, 6, 7)

	snapshot := make(map[uint32][]byte)
	for num, page := range bt.pager.cache {
		snapshot[num] = slices.Clone(page.data)
	}

	err := bt.Insert(8, testValue(8))
	if !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}
	if IsFatal(err) {
		t.Error("table full should not be fatal")
	}

	if len(bt.pager.cache) != len(snapshot) {
		t.Errorf("failed insert loaded %d new pages", len(bt.pager.cache)-len(snapshot))
	}
	for num, data := range snapshot {
		if !bytes.Equal(bt.pager.cache[num].data, data) {
			t.Errorf("failed insert modified page %d", num)
		}
	}

	if err := bt.Check(); err != nil {
		t.Errorf("Check failed: %v", err)
	}
	if got := scanKeys(t, bt); !slices.Equal(got, []uint32{1, 2, 3, 4, 5, 6, 7}) {
		t.Errorf("expected 1..7, got %v", got)
	}
}

func TestBTreePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	bt := openTestTree(t, path, smallFanout)
	rng := rand.New(rand.NewSource(3))
	for _, k := range rng.Perm(100) {
		mustInsert(t, bt, uint32(k))
	}
	want := scanKeys(t, bt)
	pages := bt.Pager().NumPages()

	if err := bt.Pager().Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	bt = openTestTree(t, path, smallFanout)
	defer bt.Pager().Close()

	if bt.Pager().NumPages() != pages {
		t.Errorf("expected %d pages after reopen, got %d", pages, bt.Pager().NumPages())
	}
	if err := bt.Check(); err != nil {
		t.Fatalf("Check after reopen failed: %v", err)
	}
	if got := scanKeys(t, bt); !slices.Equal(got, want) {
		t.Errorf("keys differ after reopen")
	}

	// The reopened tree keeps growing from where it left off.
	mustInsert(t, bt, 1000, 1001)
	if err := bt.Check(); err != nil {
		t.Errorf("Check after more inserts failed: %v", err)
	}
}

func TestBTreeDump(t *testing.T) {
	bt := newTestTree(t, Config{MaxLeafCells: 3})
	mustInsert(t, bt, 3, 1, 2, 4)

	var buf strings.Builder
	if err := bt.Dump(&buf); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	want := strings.Join([]string{
		"- internal (size 1)",
		"  - leaf (size 2)",
		"    - 1",
		"    - 2",
		"  - key 2",
		"  - leaf (size 2)",
		"    - 3",
		"    - 4",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("unexpected dump:\n%s\nexpected:\n%s", buf.String(), want)
	}
}

func TestBTreeCheckDetectsCorruption(t *testing.T) {
	bt := newTestTree(t, Config{MaxLeafCells: 3})
	mustInsert(t, bt, 1, 2, 3, 4)

	root, err := bt.Node(bt.RootPage())
	if err != nil {
		t.Fatalf("Node failed: %v", err)
	}
	root.SetInternalKey(0, 1)

	if err := bt.Check(); err == nil {
		t.Error("Check should reject a separator that is not its child's maximum")
	}
}

func TestBTreeRejectsCorruptHeader(t *testing.T) {
	tests := []struct {
		name     string
		nodeType NodeType
		countAt  uint32
		count    uint32
	}{
		{"leaf cell count past max", NodeLeaf, LeafNodeNumCellsOffset, 0xFFFF},
		{"internal key count past max", NodeInternal, InternalNodeNumKeysOffset, 0xFFFF},
		{"unknown node type", NodeType(7), LeafNodeNumCellsOffset, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := make([]byte, DefaultPageSize)
			page[NodeTypeOffset] = byte(tt.nodeType)
			page[IsRootOffset] = 1
			binary.LittleEndian.PutUint32(page[tt.countAt:], tt.count)

			path := filepath.Join(t.TempDir(), "corrupt.db")
			if err := os.WriteFile(path, page, 0600); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			bt := openTestTree(t, path, Config{})
			t.Cleanup(func() { bt.Pager().Close() })

			_, err := bt.Find(5)
			if !errors.Is(err, ErrCorruptFile) {
				t.Errorf("Find: expected ErrCorruptFile, got %v", err)
			}
			if !IsFatal(err) {
				t.Errorf("Find: corrupt header should be fatal")
			}
			if _, err := bt.Start(); !errors.Is(err, ErrCorruptFile) {
				t.Errorf("Start: expected ErrCorruptFile, got %v", err)
			}
			if err := bt.Check(); !errors.Is(err, ErrCorruptFile) {
				t.Errorf("Check: expected ErrCorruptFile, got %v", err)
			}
			if _, err := bt.Describe(); !errors.Is(err, ErrCorruptFile) {
				t.Errorf("Describe: expected ErrCorruptFile, got %v", err)
			}
			if err := bt.Insert(5, testValue(5)); !errors.Is(err, ErrCorruptFile) {
				t.Errorf("Insert: expected ErrCorruptFile, got %v", err)
			}
		})
	}
}

func TestBTreeSplitLogsCarryComponent(t *testing.T) {
	var buf bytes.Buffer
	if err := logging.Init(logging.Config{Level: "debug", Format: "json", Output: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer logging.Init(logging.Config{Output: &bytes.Buffer{}})

	bt := newTestTree(t, smallFanout)
	mustInsert(t, bt, 1, 2, 3, 4)

	seen := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		msg, _ := entry["msg"].(string)
		if msg != "split leaf" && msg != "promoted root" {
			continue
		}
		seen[msg] = true
		if entry["component"] != "btree" {
			t.Errorf("%q: expected component btree, got %v", msg, entry["component"])
		}
		if _, ok := entry["page"]; !ok {
			t.Errorf("%q: missing page attribute", msg)
		}
	}
	if !seen["split leaf"] || !seen["promoted root"] {
		t.Errorf("expected split and promotion log lines, got %v", seen)
	}
}

func TestCursorAdvanceAcrossLeaves(t *testing.T) {
	bt := newTestTree(t, smallFanout)
	for k := uint32(1); k <= 20; k++ {
		mustInsert(t, bt, k)
	}

	cursor, err := bt.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	pages := map[uint32]bool{}
	count := 0
	for !cursor.EndOfTable() {
		pages[cursor.PageNum()] = true
		v, err := cursor.Value()
		if err != nil {
			t.Fatalf("Value failed: %v", err)
		}
		if got := binary.LittleEndian.Uint64(v); got != uint64(count+1)*10+7 {
			t.Errorf("row %d: unexpected value %d", count, got)
		}
		count++
		if err := cursor.Advance(); err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
	}

	if count != 20 {
		t.Errorf("expected 20 rows, got %d", count)
	}
	if len(pages) < 2 {
		t.Errorf("expected the scan to span several leaves, got %d", len(pages))
	}

	// Reading past the end is an error rather than garbage.
	if _, err := cursor.Value(); err == nil {
		t.Error("expected error reading past the last cell")
	}
}

func treeDepth(info *NodeInfo) int {
	if len(info.Children) == 0 {
		return 1
	}
	return 1 + treeDepth(info.Children[0])
}
