package clock

import (
	"sync/atomic"
	"time"
)

// Sequence numbers the statements published by one leader.
type Sequence struct {
	n atomic.Uint64
}

// NewSequence seeds the counter from the wall clock in microseconds, so a
// leader that comes back under the same id keeps issuing larger numbers.
func NewSequence(now func() time.Time) *Sequence {
	var s Sequence
	s.n.Store(uint64(now().UnixMicro()))
	return &s
}

// Next returns a number strictly greater than every number returned before.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

func (s *Sequence) Last() uint64 {
	return s.n.Load()
}
