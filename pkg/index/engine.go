package index

import (
	"fmt"

	"kvdb/pkg/types"
)

// Engine is the key→offset map behind an Index. Lookups may run concurrently
// with a single writer.
type Engine interface {
	Lookup(key string) (types.Offset, bool)
	Record(key string, off types.Offset)
	Remove(key string)
	// Range visits live keys in ascending byte order until fn returns false.
	Range(fn func(key string, off types.Offset) bool)
	Len() int
}

type Kind string

const (
	// Ordered keeps keys sorted in a lock-free skip list.
	Ordered Kind = "skipmap"
	// Hash keeps keys in a locked hash map and sorts on Range.
	Hash Kind = "hashmap"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", Ordered:
		return Ordered, nil
	case Hash:
		return Hash, nil
	default:
		return "", fmt.Errorf("unknown index engine %q (want %s or %s)", s, Ordered, Hash)
	}
}

func newEngine(kind Kind) (Engine, error) {
	switch kind {
	case "", Ordered:
		return newOrderedEngine(), nil
	case Hash:
		return newHashEngine(), nil
	default:
		return nil, fmt.Errorf("unknown index engine %q", kind)
	}
}
