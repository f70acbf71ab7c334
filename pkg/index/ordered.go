package index

import (
	"github.com/zhangyunhao116/skipmap"

	"kvdb/pkg/types"
)

type orderedEngine struct {
	m *skipmap.OrderedMap[string, types.Offset]
}

func newOrderedEngine() *orderedEngine {
	return &orderedEngine{m: skipmap.New[string, types.Offset]()}
}

func (e *orderedEngine) Lookup(key string) (types.Offset, bool) { return e.m.Load(key) }

func (e *orderedEngine) Record(key string, off types.Offset) { e.m.Store(key, off) }

func (e *orderedEngine) Remove(key string) { e.m.Delete(key) }

func (e *orderedEngine) Range(fn func(key string, off types.Offset) bool) { e.m.Range(fn) }

func (e *orderedEngine) Len() int { return e.m.Len() }
