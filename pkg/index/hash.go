package index

import (
	"slices"
	"sync"

	"kvdb/pkg/types"
)

type hashEngine struct {
	mu      sync.RWMutex
	entries map[string]types.Offset
}

func newHashEngine() *hashEngine {
	return &hashEngine{entries: make(map[string]types.Offset)}
}

func (e *hashEngine) Lookup(key string) (types.Offset, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	off, ok := e.entries[key]
	return off, ok
}

func (e *hashEngine) Record(key string, off types.Offset) {
	e.mu.Lock()
	e.entries[key] = off
	e.mu.Unlock()
}

func (e *hashEngine) Remove(key string) {
	e.mu.Lock()
	delete(e.entries, key)
	e.mu.Unlock()
}

func (e *hashEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// Range sorts a snapshot, so fn sees the keys as they were when Range began
// and may call back into the engine.
func (e *hashEngine) Range(fn func(key string, off types.Offset) bool) {
	e.mu.RLock()
	snapshot := make(map[string]types.Offset, len(e.entries))
	for k, off := range e.entries {
		snapshot[k] = off
	}
	e.mu.RUnlock()

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !fn(k, snapshot[k]) {
			return
		}
	}
}
