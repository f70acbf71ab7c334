package cluster

import (
	"kvdb/pkg/types"
)

type Replica struct {
	ID   types.NodeID `json:"id"`
	Addr string       `json:"addr"`
}

// Descriptor is the router's view of one partition. It is rebuilt from the
// coordination service on every change and never persisted.
type Descriptor struct {
	ID         types.PartitionID `json:"id"`
	LeaderID   types.NodeID      `json:"leader_id,omitempty"`
	LeaderAddr string            `json:"leader_addr,omitempty"`
	Followers  []Replica         `json:"followers"`
}

// HasLeader reports whether a leader with a reachable address is known.
func (d Descriptor) HasLeader() bool {
	return d.LeaderID != "" && d.LeaderAddr != ""
}

// FollowerAddrs lists follower addresses, skipping replicas that have not
// published one.
func (d Descriptor) FollowerAddrs() []string {
	out := make([]string, 0, len(d.Followers))
	for _, f := range d.Followers {
		if f.Addr != "" {
			out = append(out, f.Addr)
		}
	}
	return out
}

// Topology is an immutable snapshot of all partitions. A new snapshot
// replaces the old one wholesale.
type Topology struct {
	Version    uint64       `json:"version"`
	Partitions []Descriptor `json:"partitions"`
}

func NewTopology(partitions int) *Topology {
	t := &Topology{Partitions: make([]Descriptor, partitions)}
	for i := range t.Partitions {
		t.Partitions[i] = Descriptor{ID: types.PartitionID(i)}
	}
	return t
}

func (t *Topology) Partition(id types.PartitionID) (Descriptor, bool) {
	if t == nil || int(id) >= len(t.Partitions) {
		return Descriptor{}, false
	}
	return t.Partitions[id], true
}

func (t *Topology) with(d Descriptor) *Topology {
	next := &Topology{
		Version:    t.Version + 1,
		Partitions: make([]Descriptor, len(t.Partitions)),
	}
	copy(next.Partitions, t.Partitions)
	next.Partitions[d.ID] = d
	return next
}

func (t *Topology) addrs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range t.Partitions {
		if p.LeaderAddr != "" {
			out[p.LeaderAddr] = struct{}{}
		}
		for _, addr := range p.FollowerAddrs() {
			out[addr] = struct{}{}
		}
	}
	return out
}

func (t *Topology) leaders() int {
	n := 0
	for _, p := range t.Partitions {
		if p.HasLeader() {
			n++
		}
	}
	return n
}
