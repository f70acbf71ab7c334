package cluster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zookeeper/zk"

	"kvdb/pkg/metrics"
	"kvdb/pkg/types"
)

// TopologyWatcher keeps a router's view of every partition current. One
// goroutine per partition watches the coordination service and reports
// descriptors; a single owner goroutine folds them into a new snapshot and
// swaps it in atomically.
type TopologyWatcher struct {
	conn       Conn
	sessions   <-chan zk.Event
	partitions []Paths
	metrics    *metrics.Cluster

	current atomic.Pointer[Topology]
	updates chan Descriptor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTopologyWatcher(conn Conn, sessions <-chan zk.Event, partitions []Paths, m *metrics.Cluster) (*TopologyWatcher, error) {
	if len(partitions) == 0 {
		return nil, errors.New("router needs at least one partition")
	}
	for _, p := range partitions {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if m == nil {
		m = metrics.NewCluster(nil)
	}
	w := &TopologyWatcher{
		conn:       conn,
		sessions:   sessions,
		partitions: partitions,
		metrics:    m,
		updates:    make(chan Descriptor, len(partitions)),
		cancel:     func() {},
	}
	w.current.Store(NewTopology(len(partitions)))
	return w, nil
}

// Topology returns the latest snapshot. It never returns nil.
func (w *TopologyWatcher) Topology() *Topology {
	return w.current.Load()
}

// Start reads every partition once, so the first snapshot is complete when
// it returns, and then keeps watching until Close.
func (w *TopologyWatcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	type watches struct {
		registry, election <-chan zk.Event
	}
	initial := make([]watches, len(w.partitions))
	for i, paths := range w.partitions {
		for _, p := range []string{paths.Registry, paths.Election} {
			if err := ensurePath(w.conn, p); err != nil {
				return err
			}
		}
		view, registryCh, electionCh, err := readPartition(w.conn, types.PartitionID(i), paths)
		if err != nil {
			return err
		}
		w.store(w.Topology().with(view.desc))
		initial[i] = watches{registryCh, electionCh}
	}

	w.wg.Add(1 + len(w.partitions))
	go func() {
		defer w.wg.Done()
		w.own(ctx)
	}()
	for i, paths := range w.partitions {
		go func(id types.PartitionID, paths Paths, ws watches) {
			defer w.wg.Done()
			w.watch(ctx, id, paths, ws.registry, ws.election)
		}(types.PartitionID(i), paths, initial[i])
	}
	return nil
}

func (w *TopologyWatcher) Close() {
	w.cancel()
	w.wg.Wait()
}

// own is the only writer of the current snapshot.
func (w *TopologyWatcher) own(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-w.updates:
			cur := w.Topology()
			if prev, ok := cur.Partition(d.ID); ok && descriptorEqual(prev, d) {
				continue
			}
			next := cur.with(d)
			w.store(next)
			slog.Info("topology updated",
				"version", next.Version,
				"partition", d.ID,
				"leader", d.LeaderID,
				"leader_addr", d.LeaderAddr,
				"followers", len(d.Followers),
			)
		case ev, ok := <-w.sessions:
			if !ok {
				w.sessions = nil
				continue
			}
			if ev.Type == zk.EventSession {
				w.metrics.SessionEvents.WithLabelValues(ev.State.String()).Inc()
				slog.Debug("coordination session event", "state", ev.State.String())
			}
		}
	}
}

func (w *TopologyWatcher) store(t *Topology) {
	w.current.Store(t)
	w.metrics.TopologyUpdates.Inc()
	w.metrics.Leaders.Set(float64(t.leaders()))
}

func (w *TopologyWatcher) watch(ctx context.Context, id types.PartitionID, paths Paths, registryCh, electionCh <-chan zk.Event) {
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-registryCh:
		case <-electionCh:
		case <-retry:
		}

		retry = nil
		view, r, e, err := readPartition(w.conn, id, paths)
		if err != nil {
			slog.Warn("partition watch failed", "partition", id, "error", err)
			registryCh, electionCh = nil, nil
			retry = time.After(retryInterval)
			continue
		}
		registryCh, electionCh = r, e

		select {
		case w.updates <- view.desc:
		case <-ctx.Done():
			return
		}
	}
}

func descriptorEqual(a, b Descriptor) bool {
	if a.ID != b.ID || a.LeaderID != b.LeaderID || a.LeaderAddr != b.LeaderAddr || len(a.Followers) != len(b.Followers) {
		return false
	}
	for i := range a.Followers {
		if a.Followers[i] != b.Followers[i] {
			return false
		}
	}
	return true
}
