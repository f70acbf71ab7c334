package store

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"kvdb/pkg/dberrors"
	"kvdb/pkg/index"
	"kvdb/pkg/storage"
	"kvdb/pkg/types"
)

// Guard is evaluated inside the write critical section right before the row
// is appended. A non-nil error aborts the mutation without touching the file.
type Guard func() error

// CommitHook observes client mutations in commit order. It runs inside the
// write critical section and must not block.
type CommitHook func(op types.Op, kv types.KeyValue)

// Store pairs the data file with its index. Mutations are serialized by mu so
// that the append order and the recorded offsets always agree; reads go
// through the index without locking.
type Store struct {
	mu       sync.Mutex
	file     *storage.File
	idx      *index.Index
	onCommit CommitHook
}

type Stats struct {
	Keys      int   `json:"keys"`
	FileBytes int64 `json:"file_bytes"`
}

type Option func(*options)

type options struct {
	file  []storage.Option
	index index.Kind
}

// WithSync makes every append fsync before it becomes visible.
func WithSync(enabled bool) Option {
	return func(o *options) { o.file = append(o.file, storage.WithSync(enabled)) }
}

// WithIndex picks the index engine rebuilt on open. Ordered is the default.
func WithIndex(kind index.Kind) Option {
	return func(o *options) { o.index = kind }
}

// Open opens the data file and rebuilds the index by replaying it.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{index: index.Ordered}
	for _, opt := range opts {
		opt(&o)
	}

	file, err := storage.Open(path, o.file...)
	if err != nil {
		return nil, err
	}
	idx, err := index.Rebuild(file, o.index)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	slog.Info("store opened",
		"path", file.Path(),
		"index", idx.Kind(),
		"keys", idx.Len(),
		"bytes", file.Size(),
	)

	return &Store{file: file, idx: idx}, nil
}

// OnCommit installs fn for every later Create, Update and Delete. Apply does
// not trigger it.
func (s *Store) OnCommit(fn CommitHook) {
	s.mu.Lock()
	s.onCommit = fn
	s.mu.Unlock()
}

func (s *Store) Get(key types.Key) (types.KeyValue, error) {
	k, err := encodeKey(key)
	if err != nil {
		return types.KeyValue{}, err
	}
	off, ok := s.idx.Lookup(string(k))
	if !ok {
		return types.KeyValue{}, dberrors.ErrNotFound
	}
	return s.readKeyValue(k, off)
}

func (s *Store) readKeyValue(k []byte, off types.Offset) (types.KeyValue, error) {
	r, err := s.file.ReadAt(off)
	if err != nil {
		return types.KeyValue{}, err
	}
	if r.Tombstone() || !bytes.Equal(r.Key, k) {
		return types.KeyValue{}, &dberrors.StorageError{
			Op:     "lookup",
			Offset: int64(off),
			Err:    errors.New("index points at a foreign row"),
		}
	}
	return decodeRow(r, int64(off))
}

// Create stores a new key. It fails with ErrAlreadyExists if the key is live.
func (s *Store) Create(kv types.KeyValue, guards ...Guard) error {
	k, v, err := encodeKeyValue(kv)
	if err != nil {
		return err
	}
	_, err = s.mutate(types.OpCreate, kv, k, v, guards, true, func(exists bool) error {
		if exists {
			return dberrors.ErrAlreadyExists
		}
		return nil
	})
	return err
}

// Update overwrites a live key. It fails with ErrNotFound otherwise.
func (s *Store) Update(kv types.KeyValue, guards ...Guard) error {
	k, v, err := encodeKeyValue(kv)
	if err != nil {
		return err
	}
	_, err = s.mutate(types.OpUpdate, kv, k, v, guards, true, mustExist)
	return err
}

// Delete appends a tombstone and returns the removed pair.
func (s *Store) Delete(key types.Key, guards ...Guard) (types.KeyValue, error) {
	k, err := encodeKey(key)
	if err != nil {
		return types.KeyValue{}, err
	}
	return s.mutate(types.OpDelete, types.KeyValue{Key: key}, k, nil, guards, true, mustExist)
}

// Apply executes a replicated mutation. It never checks existence, so
// applying the same statement twice leaves the same state.
func (s *Store) Apply(op types.Op, kv types.KeyValue) error {
	switch op {
	case types.OpCreate, types.OpUpdate:
		k, v, err := encodeKeyValue(kv)
		if err != nil {
			return err
		}
		_, err = s.mutate(op, kv, k, v, nil, false, nil)
		return err
	case types.OpDelete:
		k, err := encodeKey(kv.Key)
		if err != nil {
			return err
		}
		_, err = s.mutate(op, kv, k, nil, nil, false, mustExist)
		if errors.Is(err, dberrors.ErrNotFound) {
			return nil
		}
		return err
	default:
		return dberrors.Validation("unknown operation %d", op)
	}
}

func mustExist(exists bool) error {
	if !exists {
		return dberrors.ErrNotFound
	}
	return nil
}

func (s *Store) mutate(
	op types.Op,
	kv types.KeyValue,
	k, v []byte,
	guards []Guard,
	notify bool,
	check func(exists bool) error,
) (types.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(k)
	prevOff, exists := s.idx.Lookup(key)
	if check != nil {
		if err := check(exists); err != nil {
			return types.KeyValue{}, err
		}
	}

	var prev types.KeyValue
	if op.Tombstone() && exists {
		var err error
		if prev, err = s.readKeyValue(k, prevOff); err != nil {
			return types.KeyValue{}, err
		}
	}

	for _, guard := range guards {
		if err := guard(); err != nil {
			return types.KeyValue{}, err
		}
	}

	off, err := s.file.Append(storage.Row{Op: op, Key: k, Value: v})
	if err != nil {
		return types.KeyValue{}, err
	}
	if op.Tombstone() {
		s.idx.Remove(key)
	} else {
		s.idx.Record(key, off)
	}
	if notify && s.onCommit != nil {
		s.onCommit(op, kv)
	}
	return prev, nil
}

// Range visits live pairs in canonical key order until fn returns false.
func (s *Store) Range(fn func(types.KeyValue) bool) error {
	var rangeErr error
	s.idx.Range(func(key string, off types.Offset) bool {
		kv, err := s.readKeyValue([]byte(key), off)
		if err != nil {
			// the key may have been superseded between the index walk and the read
			if _, ok := s.idx.Lookup(key); !ok {
				return true
			}
			rangeErr = err
			return false
		}
		return fn(kv)
	})
	return rangeErr
}

// Snapshot copies the live key→offset mapping.
func (s *Store) Snapshot() map[string]types.Offset {
	return s.idx.Entries()
}

func (s *Store) Stats() Stats {
	return Stats{Keys: s.idx.Len(), FileBytes: s.file.Size()}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
