package bootstrapcache

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// Store persists a Cache's entries across restarts, backed by leveldb as
// this process's storage engine. The on-disk row format is a gob-encoded
// Entry plus its sequence number per key: an implementation detail,
// opaque to callers, as long as
// it round-trips through Cache.
type Store struct {
	db *leveldb.DB
}

// OpenStore opens (creating if absent) a leveldb database at path.
func OpenStore(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("bootstrapcache: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying leveldb handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads every persisted entry back into a fresh Cache bounded at
// capacity, in the order it was written.
func (s *Store) Load(capacity int) (*Cache, error) {
	cache := New(capacity)

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	type row struct {
		Seq   int64
		Entry Entry
	}
	var rows []row
	for iter.Next() {
		var r row
		dec := gob.NewDecoder(bytes.NewReader(iter.Value()))
		if err := dec.Decode(&r); err != nil {
			continue // corrupt row: skip rather than fail the whole load
		}
		rows = append(rows, r)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("bootstrapcache: iterate: %w", err)
	}

	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			if rows[j].Seq < rows[i].Seq {
				rows[i], rows[j] = rows[j], rows[i]
			}
		}
	}
	for _, r := range rows {
		cache.Put(r.Entry.Key, r.Entry.Value)
	}
	return cache, nil
}

// Save overwrites the store with the full contents of cache, assigning
// each entry a fresh monotonic sequence number so Load recovers the same
// insertion order.
func (s *Store) Save(cache *Cache) error {
	batch := new(leveldb.Batch)

	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("bootstrapcache: clear: %w", err)
	}

	type row struct {
		Seq   int64
		Entry Entry
	}
	for i, e := range cache.Snapshot() {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(row{Seq: int64(i), Entry: e}); err != nil {
			return fmt.Errorf("bootstrapcache: encode %s: %w", e.Key, err)
		}
		batch.Put([]byte(e.Key), buf.Bytes())
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("bootstrapcache: write batch: %w", err)
	}
	return nil
}
