package index

import (
	"fmt"

	"kvdb/pkg/storage"
	"kvdb/pkg/types"
)

// Scanner replays rows in file order.
type Scanner interface {
	Scan(fn func(types.Offset, storage.Row) error) error
}

// Index maps a canonical key to the offset of its latest live row.
// It holds offsets only; rows are resolved lazily through the data file.
type Index struct {
	Engine
	kind Kind
}

// New returns an empty index backed by the given engine. The zero Kind
// selects Ordered.
func New(kind Kind) (*Index, error) {
	e, err := newEngine(kind)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		kind = Ordered
	}
	return &Index{Engine: e, kind: kind}, nil
}

// Rebuild replays every row of the file from offset 0. Later rows shadow
// earlier ones and a tombstone removes the key.
func Rebuild(sc Scanner, kind Kind) (*Index, error) {
	idx, err := New(kind)
	if err != nil {
		return nil, err
	}
	err = sc.Scan(func(off types.Offset, r storage.Row) error {
		idx.apply(string(r.Key), off, r.Tombstone())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	return idx, nil
}

func (idx *Index) Kind() Kind { return idx.kind }

func (idx *Index) apply(key string, off types.Offset, tombstone bool) {
	if tombstone {
		idx.Remove(key)
		return
	}
	idx.Record(key, off)
}

// Entries copies the current key→offset mapping.
func (idx *Index) Entries() map[string]types.Offset {
	out := make(map[string]types.Offset, idx.Len())
	idx.Range(func(key string, off types.Offset) bool {
		out[key] = off
		return true
	})
	return out
}

// Keys lists live keys in ascending byte order.
func (idx *Index) Keys() []string {
	keys := make([]string, 0, idx.Len())
	idx.Range(func(key string, _ types.Offset) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}
