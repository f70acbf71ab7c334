package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zhangyunhao116/fastrand"

	"kvdb/pkg/dberrors"
	"kvdb/pkg/types"
)

// Remote is a storage node as seen by the router.
type Remote interface {
	Get(ctx context.Context, key types.Key, strong bool) (types.KeyValue, error)
	Create(ctx context.Context, kv types.KeyValue) (types.KeyValue, error)
	Update(ctx context.Context, kv types.KeyValue) (types.KeyValue, error)
	Delete(ctx context.Context, key types.Key) (types.KeyValue, error)
}

type ClientFactory func(addr string) (Remote, error)

type TopologySource interface {
	Topology() *Topology
}

type Consistency uint8

const (
	// Eventual reads may be served by any replica.
	Eventual Consistency = iota
	// Strong reads go to the leader.
	Strong
)

// Router sends each request to the partition that owns the key: writes and
// strong reads to the leader, other reads to a random follower. It keeps no
// state besides a cache of node clients.
type Router struct {
	topology  TopologySource
	newClient ClientFactory

	mu      sync.Mutex
	clients map[string]Remote
	// version of the topology the cache was last pruned against
	version uint64
}

func NewRouter(topology TopologySource, newClient ClientFactory) *Router {
	return &Router{
		topology:  topology,
		newClient: newClient,
		clients:   make(map[string]Remote),
	}
}

func (r *Router) Topology() *Topology {
	return r.topology.Topology()
}

func (r *Router) partition(key types.Key) (Descriptor, error) {
	t := r.topology.Topology()
	id, err := PartitionFor(key, len(t.Partitions))
	if err != nil {
		return Descriptor{}, err
	}
	d, _ := t.Partition(id)
	return d, nil
}

func (r *Router) leader(key types.Key) (string, Descriptor, error) {
	d, err := r.partition(key)
	if err != nil {
		return "", d, err
	}
	if !d.HasLeader() {
		return "", d, fmt.Errorf("partition %d has no leader: %w", d.ID, dberrors.ErrTopologyUnavailable)
	}
	return d.LeaderAddr, d, nil
}

// reader picks a random follower, falling back to the leader.
func (r *Router) reader(key types.Key) (string, Descriptor, error) {
	d, err := r.partition(key)
	if err != nil {
		return "", d, err
	}
	if followers := d.FollowerAddrs(); len(followers) > 0 {
		return followers[fastrand.Intn(len(followers))], d, nil
	}
	if d.HasLeader() {
		return d.LeaderAddr, d, nil
	}
	return "", d, fmt.Errorf("partition %d has no replicas: %w", d.ID, dberrors.ErrTopologyUnavailable)
}

func (r *Router) client(addr string) (Remote, error) {
	t := r.topology.Topology()

	r.mu.Lock()
	defer r.mu.Unlock()

	if t != nil && t.Version != r.version {
		r.prune(t, addr)
		r.version = t.Version
	}
	if c, ok := r.clients[addr]; ok {
		return c, nil
	}
	c, err := r.newClient(addr)
	if err != nil {
		return nil, fmt.Errorf("router: create client for %s: %w", addr, err)
	}
	r.clients[addr] = c
	return c, nil
}

// prune drops clients of nodes that are no longer in t. keep survives even if
// absent, since it was picked from a snapshot that may be older than t.
func (r *Router) prune(t *Topology, keep string) {
	live := t.addrs()
	for addr := range r.clients {
		if _, ok := live[addr]; !ok && addr != keep {
			delete(r.clients, addr)
			slog.Debug("router client dropped", "addr", addr, "topology_version", t.Version)
		}
	}
}

func (r *Router) log(method string, key types.Key, d Descriptor, target string) {
	slog.Debug("route",
		"method", method,
		"key", types.String(key),
		"partition", d.ID,
		"target", target,
	)
}

func (r *Router) Get(ctx context.Context, key types.Key, c Consistency) (types.KeyValue, error) {
	pick := r.reader
	if c == Strong {
		pick = r.leader
	}
	target, d, err := pick(key)
	if err != nil {
		return types.KeyValue{}, err
	}
	r.log("GET", key, d, target)

	cl, err := r.client(target)
	if err != nil {
		return types.KeyValue{}, err
	}
	return cl.Get(ctx, key, c == Strong)
}

func (r *Router) Create(ctx context.Context, kv types.KeyValue) (types.KeyValue, error) {
	target, d, err := r.leader(kv.Key)
	if err != nil {
		return types.KeyValue{}, err
	}
	r.log("CREATE", kv.Key, d, target)

	cl, err := r.client(target)
	if err != nil {
		return types.KeyValue{}, err
	}
	return cl.Create(ctx, kv)
}

func (r *Router) Update(ctx context.Context, kv types.KeyValue) (types.KeyValue, error) {
	target, d, err := r.leader(kv.Key)
	if err != nil {
		return types.KeyValue{}, err
	}
	r.log("UPDATE", kv.Key, d, target)

	cl, err := r.client(target)
	if err != nil {
		return types.KeyValue{}, err
	}
	return cl.Update(ctx, kv)
}

func (r *Router) Delete(ctx context.Context, key types.Key) (types.KeyValue, error) {
	target, d, err := r.leader(key)
	if err != nil {
		return types.KeyValue{}, err
	}
	r.log("DELETE", key, d, target)

	cl, err := r.client(target)
	if err != nil {
		return types.KeyValue{}, err
	}
	return cl.Delete(ctx, key)
}
