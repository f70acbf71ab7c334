package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kvdb/pkg/clock"
	"kvdb/pkg/cluster"
	"kvdb/pkg/dberrors"
	"kvdb/pkg/replication"
	"kvdb/pkg/store"
	"kvdb/pkg/types"
)

// Membership is the node's view of its partition role.
type Membership interface {
	ID() types.NodeID
	Role() cluster.Role
	Changes() <-chan cluster.Role
}

// Publisher fans committed statements out to followers.
type Publisher interface {
	Publish(st replication.Statement)
	SetTargets(targets []string)
}

// Node serves one partition replica. As leader it accepts client writes and
// publishes them to followers; as follower it serves reads and applies the
// leader's statements.
type Node struct {
	store     *store.Store
	member    Membership
	publisher Publisher
	sequencer *replication.Sequencer
	seq       *clock.Sequence

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st *store.Store, member Membership, publisher Publisher) *Node {
	return &Node{
		store:     st,
		member:    member,
		publisher: publisher,
		sequencer: replication.NewSequencer(),
		seq:       clock.NewSequence(time.Now),
		cancel:    func() {},
	}
}

// Start hooks replication into the store and follows role changes until Close.
func (n *Node) Start(ctx context.Context) {
	n.store.OnCommit(n.publish)
	n.applyRole(n.member.Role())

	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.followRole(ctx)
	}()
}

func (n *Node) Close() {
	n.cancel()
	n.wg.Wait()
	n.store.OnCommit(nil)
}

func (n *Node) ID() types.NodeID { return n.member.ID() }

func (n *Node) Role() cluster.Role { return n.member.Role() }

func (n *Node) Stats() store.Stats { return n.store.Stats() }

// followRole is the single consumer of role changes; it owns the
// replication target set.
func (n *Node) followRole(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case role := <-n.member.Changes():
			n.applyRole(role)
		}
	}
}

func (n *Node) applyRole(role cluster.Role) {
	if role.IsLeader() {
		n.publisher.SetTargets(role.Targets)
		return
	}
	n.publisher.SetTargets(nil)
}

// publish runs inside the store's write critical section, so statements are
// numbered and queued in commit order.
func (n *Node) publish(op types.Op, kv types.KeyValue) {
	n.publisher.Publish(replication.Statement{
		Op:       op,
		KeyValue: kv,
		LeaderID: n.member.ID(),
		Seq:      n.seq.Next(),
	})
}

// leaderGuard is checked again under the store lock, right before the append.
func (n *Node) leaderGuard() error {
	if !n.member.Role().IsLeader() {
		return dberrors.ErrLeadershipRevoked
	}
	return nil
}

func (n *Node) checkLeader() error {
	role := n.member.Role()
	if role.IsLeader() {
		return nil
	}
	if role.LeaderAddr != "" {
		return fmt.Errorf("%w: leader is %s", dberrors.ErrNotLeader, role.LeaderAddr)
	}
	return dberrors.ErrNotLeader
}

// Get reads locally. A strong read is only served by the leader.
func (n *Node) Get(_ context.Context, key types.Key, strong bool) (types.KeyValue, error) {
	if strong {
		if err := n.checkLeader(); err != nil {
			return types.KeyValue{}, err
		}
	}
	return n.store.Get(key)
}

// Create and Update return the pair as stored.
func (n *Node) Create(_ context.Context, kv types.KeyValue) (types.KeyValue, error) {
	if err := n.checkLeader(); err != nil {
		return types.KeyValue{}, err
	}
	if err := n.store.Create(kv, n.leaderGuard); err != nil {
		return types.KeyValue{}, err
	}
	return kv, nil
}

func (n *Node) Update(_ context.Context, kv types.KeyValue) (types.KeyValue, error) {
	if err := n.checkLeader(); err != nil {
		return types.KeyValue{}, err
	}
	if err := n.store.Update(kv, n.leaderGuard); err != nil {
		return types.KeyValue{}, err
	}
	return kv, nil
}

func (n *Node) Delete(_ context.Context, key types.Key) (types.KeyValue, error) {
	if err := n.checkLeader(); err != nil {
		return types.KeyValue{}, err
	}
	return n.store.Delete(key, n.leaderGuard)
}

// Replicate applies a statement from the recognized leader. Statements that
// arrive out of order are dropped.
func (n *Node) Replicate(_ context.Context, st replication.Statement) error {
	if err := st.Validate(); err != nil {
		return err
	}
	role := n.member.Role()
	if role.Kind != cluster.Follower || role.LeaderID != st.LeaderID {
		return fmt.Errorf("%w: %s (recognized %q as %s)", dberrors.ErrUnknownLeader, st.LeaderID, role.LeaderID, role.Kind)
	}
	applied, err := n.sequencer.ApplyIfNewer(st.LeaderID, st.Seq, func() error {
		return n.store.Apply(st.Op, st.KeyValue)
	})
	if err != nil {
		return fmt.Errorf("apply seq %d: %w", st.Seq, err)
	}
	if !applied {
		last, _ := n.sequencer.Last(st.LeaderID)
		slog.Warn("stale statement dropped",
			"leader", st.LeaderID,
			"seq", st.Seq,
			"last", last,
		)
	}
	return nil
}
