package bootstrapcache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPutEvictsOldestOnOverflow(t *testing.T) {
	c := New(2)
	c.Put("a", []byte("A"))
	c.Put("b", []byte("B"))
	c.Put("c", []byte("C"))

	if c.Contains("a") {
		t.Fatal("expected the oldest entry to have been evicted")
	}
	if !c.Contains("b") || !c.Contains("c") {
		t.Fatal("expected the two most recent entries to remain")
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}

func TestPutMovesReinsertedKeyToBack(t *testing.T) {
	c := New(2)
	c.Put("a", []byte("A"))
	c.Put("b", []byte("B"))
	c.Put("a", []byte("A2")) // refresh a, now b is oldest
	c.Put("c", []byte("C"))  // should evict b, not a

	if c.Contains("b") {
		t.Fatal("expected b to have been evicted after a was refreshed")
	}
	if !c.Contains("a") || !c.Contains("c") {
		t.Fatal("expected a (refreshed) and c to remain")
	}

	snap := c.Snapshot()
	if len(snap) != 2 || snap[0].Key != "a" || snap[1].Key != "c" {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}
	if string(snap[0].Value) != "A2" {
		t.Fatalf("expected refreshed value A2, got %s", snap[0].Value)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := New(4)
	c.Put("a", []byte("A"))

	snap := c.Snapshot()
	snap[0].Value[0] = 'Z'

	snap2 := c.Snapshot()
	if string(snap2[0].Value) != "A" {
		t.Fatalf("mutating a snapshot must not affect the cache, got %s", snap2[0].Value)
	}
}

func TestStoreRoundTripsThroughDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bootstrap.db")

	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	c := New(8)
	c.Put("10.0.0.1:4242", []byte("cert-1"))
	c.Put("10.0.0.2:4242", []byte("cert-2"))

	if err := store.Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(8)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	snap := loaded.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap[0].Key != "10.0.0.1:4242" || snap[1].Key != "10.0.0.2:4242" {
		t.Fatalf("unexpected load order: %+v", snap)
	}

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected leveldb directory to exist: %v", err)
	}
}
