package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kvdb/pkg/metrics"
	"kvdb/pkg/types"
)

type fakeSender struct {
	mu       sync.Mutex
	received map[string][]uint64
	failing  map[string]bool
	block    map[string]chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		received: make(map[string][]uint64),
		failing:  make(map[string]bool),
		block:    make(map[string]chan struct{}),
	}
}

func (s *fakeSender) Replicate(ctx context.Context, target string, st Statement) error {
	s.mu.Lock()
	gate := s.block[target]
	fail := s.failing[target]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("connection refused")
	}

	s.mu.Lock()
	s.received[target] = append(s.received[target], st.Seq)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) got(target string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.received[target]...)
}

func stmt(seq uint64) Statement {
	return Statement{
		Op:       types.OpUpdate,
		KeyValue: types.KeyValue{Key: types.MustValue("k"), Value: types.MustValue(float64(seq))},
		LeaderID: "leader",
		Seq:      seq,
	}
}

func seqs(from, to uint64) []uint64 {
	var out []uint64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestReplicator_PreservesOrderPerFollower(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := newFakeSender()
	r := New(sender)
	r.SetTargets([]string{"http://f1", "http://f2"})

	for i := uint64(1); i <= 100; i++ {
		r.Publish(stmt(i))
	}

	want := seqs(1, 100)
	for _, target := range []string{"http://f1", "http://f2"} {
		require.Eventually(t, func() bool {
			return len(sender.got(target)) == len(want)
		}, 2*time.Second, 5*time.Millisecond, target)
		assert.Equal(t, want, sender.got(target), target)
	}
	r.Close()
}

func TestReplicator_FailingFollowerDoesNotBlockOthers(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := newFakeSender()
	sender.failing["http://dead"] = true
	m := metrics.NewReplication(nil)
	r := New(sender, WithMetrics(m))
	r.SetTargets([]string{"http://dead", "http://alive"})

	for i := uint64(1); i <= 10; i++ {
		r.Publish(stmt(i))
	}

	require.Eventually(t, func() bool {
		return len(sender.got("http://alive")) == 10
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Failed.WithLabelValues("http://dead")) == 10
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, sender.got("http://dead"))
	r.Close()
}

func TestReplicator_FullQueueDrops(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := newFakeSender()
	gate := make(chan struct{})
	sender.block["http://slow"] = gate
	m := metrics.NewReplication(nil)
	r := New(sender, WithQueueSize(2), WithMetrics(m))
	r.SetTargets([]string{"http://slow"})

	// the first statement is taken by the worker and parks on the gate
	r.Publish(stmt(1))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.QueueDepth.WithLabelValues("http://slow")) == 0
	}, 2*time.Second, 5*time.Millisecond)

	for i := uint64(2); i <= 6; i++ {
		r.Publish(stmt(i))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Dropped.WithLabelValues("http://slow")))

	close(gate)
	require.Eventually(t, func() bool {
		return len(sender.got("http://slow")) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3}, sender.got("http://slow"))
	r.Close()
}

func TestReplicator_SetTargetsStopsRemovedWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := newFakeSender()
	sender.block["http://gone"] = make(chan struct{})
	r := New(sender)

	r.SetTargets([]string{"http://gone", "http://stay"})
	r.Publish(stmt(1))
	r.SetTargets([]string{"http://stay"})
	assert.Equal(t, []string{"http://stay"}, r.Targets())

	r.Publish(stmt(2))
	require.Eventually(t, func() bool {
		return len(sender.got("http://stay")) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, sender.got("http://gone"))

	r.Close()
	r.SetTargets([]string{"http://late"})
	assert.Empty(t, r.Targets())
}
