package replication

import (
	"sync"

	"kvdb/pkg/types"
)

// Sequencer remembers the highest statement number applied from each leader
// and rejects anything at or below it. A statement that arrives late, after a
// newer one from the same leader, is dropped instead of overwriting newer state.
type Sequencer struct {
	mu   sync.Mutex
	last map[types.NodeID]uint64
}

func NewSequencer() *Sequencer {
	return &Sequencer{last: make(map[types.NodeID]uint64)}
}

// ApplyIfNewer runs fn if seq is newer than anything applied from leader.
// fn runs under the sequencer lock, so statements from one leader are applied
// one at a time and in order. The seq is recorded only when fn succeeds, which
// lets the leader retry a failed statement with the same number.
func (s *Sequencer) ApplyIfNewer(leader types.NodeID, seq uint64, fn func() error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.last[leader]; ok && seq <= last {
		return false, nil
	}
	if err := fn(); err != nil {
		return false, err
	}
	s.last[leader] = seq
	return true, nil
}

func (s *Sequencer) Last(leader types.NodeID) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.last[leader]
	return seq, ok
}
