package storage

import (
	"encoding/binary"
	"path/filepath"
	"testing"
)

const testValueSize = 8

// openTestTree opens (or reopens) the tree stored at path.
func openTestTree(t *testing.T, path string, cfg Config) *BTree {
	t.Helper()

	if cfg.ValueSize == 0 {
		cfg.ValueSize = testValueSize
	}
	layout, err := NewLayout(cfg)
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}

	pager, err := OpenPager(path, layout)
	if err != nil {
		t.Fatalf("OpenPager failed: %v", err)
	}

	bt, err := OpenBTree(pager)
	if err != nil {
		pager.Close()
		t.Fatalf("OpenBTree failed: %v", err)
	}
	return bt
}

// newTestTree creates a tree in a fresh file that is closed when the test ends.
func newTestTree(t *testing.T, cfg Config) *BTree {
	t.Helper()

	bt := openTestTree(t, filepath.Join(t.TempDir(), "test.db"), cfg)
	t.Cleanup(func() { bt.Pager().Close() })
	return bt
}

func testValue(key uint32) []byte {
	v := make([]byte, testValueSize)
	binary.LittleEndian.PutUint64(v, uint64(key)*10+7)
	return v
}

func mustInsert(t *testing.T, bt *BTree, keys ...uint32) {
	t.Helper()
	for _, k := range keys {
		if err := bt.Insert(k, testValue(k)); err != nil {
			t.Fatalf("Insert %d failed: %v", k, err)
		}
	}
}

// scanKeys walks the whole tree with a cursor and returns the keys it sees.
func scanKeys(t *testing.T, bt *BTree) []uint32 {
	t.Helper()

	cursor, err := bt.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var keys []uint32
	for !cursor.EndOfTable() {
		k, err := cursor.Key()
		if err != nil {
			t.Fatalf("Key failed: %v", err)
		}
		v, err := cursor.Value()
		if err != nil {
			t.Fatalf("Value failed: %v", err)
		}
		if got := binary.LittleEndian.Uint64(v); got != uint64(k)*10+7 {
			t.Fatalf("key %d: value %d, expected %d", k, got, uint64(k)*10+7)
		}
		keys = append(keys, k)
		if err := cursor.Advance(); err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
	}
	return keys
}
