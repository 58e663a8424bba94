package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Reader is the read side of the key-value state.
type Reader interface {
	// Get decodes the value stored at key into v. It reports false when the
	// key does not exist.
	Get(key []byte, v any) (bool, error)
	Has(key []byte) (bool, error)
	// Scan visits every key with the given prefix in ascending order.
	Scan(prefix []byte, fn func(key, value []byte) error) error
	// ScanReverse visits every key with the given prefix in descending order.
	ScanReverse(prefix []byte, fn func(key, value []byte) error) error
}

// ReadWriter is handed to state mutations. Writes are staged until the
// enclosing Update returns.
type ReadWriter interface {
	Reader
	Put(key []byte, v any) error
	Delete(key []byte) error
}

// ErrStopScan can be returned from a scan callback to end iteration early.
var ErrStopScan = errors.New("stop scan")

// Store provides Pebble-based persistence for the marketplace state.
// Mutations are all-or-nothing: Update stages writes in an indexed batch and
// only commits it when the callback succeeds.
type Store struct {
	db *pebble.DB
}

// Open opens a Pebble database at the given path
func Open(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a Pebble database backed by an in-memory filesystem.
// Used by tests and ephemeral dev nodes.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn against a staged view of the state. Reads inside fn observe
// fn's own writes. The writes are committed atomically if fn returns nil and
// discarded otherwise.
func (s *Store) Update(fn func(rw ReadWriter) error) error {
	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&kv{r: batch, w: batch}); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// View runs fn against a consistent snapshot of committed state.
func (s *Store) View(fn func(r Reader) error) error {
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return fn(&kv{r: snap})
}

type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

type kv struct {
	r pebbleReader
	w *pebble.Batch
}

func (t *kv) Get(key []byte, v any) (bool, error) {
	data, closer, err := t.r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	if err := Decode(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

func (t *kv) Has(key []byte) (bool, error) {
	_, closer, err := t.r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	closer.Close()
	return true, nil
}

func (t *kv) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return t.scan(prefix, false, fn)
}

func (t *kv) ScanReverse(prefix []byte, fn func(key, value []byte) error) error {
	return t.scan(prefix, true, fn)
}

func (t *kv) scan(prefix []byte, reverse bool, fn func(key, value []byte) error) error {
	iter, err := t.r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	valid := iter.First
	next := iter.Next
	if reverse {
		valid, next = iter.Last, iter.Prev
	}
	for ok := valid(); ok; ok = next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

func (t *kv) Put(key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	if err := t.w.Set(key, data, nil); err != nil {
		return fmt.Errorf("failed to stage %q: %w", key, err)
	}
	return nil
}

func (t *kv) Delete(key []byte) error {
	if err := t.w.Delete(key, nil); err != nil {
		return fmt.Errorf("failed to stage delete %q: %w", key, err)
	}
	return nil
}
