package node

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kvdb/pkg/cluster"
	"kvdb/pkg/dberrors"
	"kvdb/pkg/replication"
	"kvdb/pkg/storage"
	"kvdb/pkg/store"
	"kvdb/pkg/types"
)

// fakeMember returns scripted roles; once the script runs out the last role sticks.
type fakeMember struct {
	mu      sync.Mutex
	id      types.NodeID
	script  []cluster.Role
	changes chan cluster.Role
}

func newFakeMember(id types.NodeID, roles ...cluster.Role) *fakeMember {
	return &fakeMember{id: id, script: roles, changes: make(chan cluster.Role, 1)}
}

func (m *fakeMember) ID() types.NodeID { return m.id }

func (m *fakeMember) Role() cluster.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.script[0]
	if len(m.script) > 1 {
		m.script = m.script[1:]
	}
	return r
}

func (m *fakeMember) Changes() <-chan cluster.Role { return m.changes }

func (m *fakeMember) set(r cluster.Role) {
	m.mu.Lock()
	m.script = []cluster.Role{r}
	m.mu.Unlock()
	m.changes <- r
}

type fakePublisher struct {
	mu      sync.Mutex
	stmts   []replication.Statement
	targets []string
}

func (p *fakePublisher) Publish(st replication.Statement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stmts = append(p.stmts, st)
}

func (p *fakePublisher) SetTargets(targets []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = targets
}

func (p *fakePublisher) published() []replication.Statement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]replication.Statement(nil), p.stmts...)
}

func (p *fakePublisher) currentTargets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targets
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func startNode(t *testing.T, m *fakeMember) (*Node, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	n := New(openStore(t), m, pub)
	n.Start(context.Background())
	return n, pub
}

func kv(key, value any) types.KeyValue {
	return types.KeyValue{Key: types.MustValue(key), Value: types.MustValue(value)}
}

func TestNode_LeaderPublishesInCommitOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	n, pub := startNode(t, newFakeMember("me", cluster.LeaderRole("me", []string{"http://f1"})))
	defer n.Close()
	ctx := context.Background()

	created, err := n.Create(ctx, kv("a", 1.0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, created.Value.GetNumberValue())
	updated, err := n.Update(ctx, kv("a", 2.0))
	require.NoError(t, err)
	assert.Equal(t, "a", updated.Key.GetStringValue())
	assert.Equal(t, 2.0, updated.Value.GetNumberValue())
	_, err = n.Delete(ctx, types.MustValue("a"))
	require.NoError(t, err)

	// a rejected write publishes nothing
	_, err = n.Update(ctx, kv("missing", 1.0))
	assert.ErrorIs(t, err, dberrors.ErrNotFound)

	stmts := pub.published()
	require.Len(t, stmts, 3)
	ops := []types.Op{types.OpCreate, types.OpUpdate, types.OpDelete}
	for i, st := range stmts {
		assert.Equal(t, ops[i], st.Op)
		assert.Equal(t, types.NodeID("me"), st.LeaderID)
		if i > 0 {
			assert.Greater(t, st.Seq, stmts[i-1].Seq)
		}
	}
	assert.Equal(t, []string{"http://f1"}, pub.currentTargets())
}

func TestNode_FollowerRefusesWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	n, pub := startNode(t, newFakeMember("me", cluster.FollowerRole("other", "http://leader")))
	defer n.Close()
	ctx := context.Background()

	_, err := n.Create(ctx, kv("a", 1.0))
	assert.ErrorIs(t, err, dberrors.ErrNotLeader)
	assert.ErrorIs(t, err, dberrors.ErrTopologyUnavailable)
	assert.Contains(t, err.Error(), "http://leader")

	_, err = n.Get(ctx, types.MustValue("a"), true)
	assert.ErrorIs(t, err, dberrors.ErrNotLeader)

	_, err = n.Get(ctx, types.MustValue("a"), false)
	assert.ErrorIs(t, err, dberrors.ErrNotFound)

	assert.Empty(t, pub.published())
	assert.Nil(t, pub.currentTargets())
}

func TestNode_LeadershipLostBeforeAppend(t *testing.T) {
	defer goleak.VerifyNone(t)

	// leader when the request is admitted, candidate by the time the row would be written
	m := newFakeMember("me",
		cluster.LeaderRole("me", nil), // Start
		cluster.LeaderRole("me", nil), // checkLeader
		cluster.CandidateRole(),       // guard
	)
	n, pub := startNode(t, m)
	defer n.Close()

	_, err := n.Create(context.Background(), kv("a", 1.0))
	assert.ErrorIs(t, err, dberrors.ErrLeadershipRevoked)
	assert.Empty(t, pub.published())
	assert.Zero(t, n.Stats().FileBytes)
}

func TestNode_ReplicateFromRecognizedLeader(t *testing.T) {
	defer goleak.VerifyNone(t)

	n, _ := startNode(t, newFakeMember("me", cluster.FollowerRole("leader", "http://leader")))
	defer n.Close()
	ctx := context.Background()

	s1 := replication.Statement{Op: types.OpCreate, KeyValue: kv("k", "S1"), LeaderID: "leader", Seq: 10}
	s2 := replication.Statement{Op: types.OpUpdate, KeyValue: kv("k", "S2"), LeaderID: "leader", Seq: 11}

	// S2 overtakes S1; the late S1 must not win
	require.NoError(t, n.Replicate(ctx, s2))
	require.NoError(t, n.Replicate(ctx, s1))

	got, err := n.Get(ctx, types.MustValue("k"), false)
	require.NoError(t, err)
	assert.Equal(t, "S2", got.Value.GetStringValue())

	// redelivery is harmless
	require.NoError(t, n.Replicate(ctx, s2))

	err = n.Replicate(ctx, replication.Statement{Op: types.OpDelete, KeyValue: kv("k", nil), LeaderID: "impostor", Seq: 99})
	assert.ErrorIs(t, err, dberrors.ErrUnknownLeader)

	_, err = n.Get(ctx, types.MustValue("k"), false)
	require.NoError(t, err)
}

func TestNode_FailedReplicateCanBeRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	n, _ := startNode(t, newFakeMember("me", cluster.FollowerRole("leader", "http://leader")))
	defer n.Close()
	ctx := context.Background()

	huge := replication.Statement{
		Op:       types.OpCreate,
		KeyValue: kv(strings.Repeat("k", storage.MaxKeySize+1), "v"),
		LeaderID: "leader",
		Seq:      7,
	}
	err := n.Replicate(ctx, huge)
	assert.ErrorIs(t, err, dberrors.ErrValidation)

	_, recorded := n.sequencer.Last("leader")
	assert.False(t, recorded)

	// the leader resends seq 7 and it lands
	require.NoError(t, n.Replicate(ctx, replication.Statement{
		Op: types.OpCreate, KeyValue: kv("k", "v"), LeaderID: "leader", Seq: 7,
	}))
	got, err := n.Get(ctx, types.MustValue("k"), false)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Value.GetStringValue())
}

func TestNode_LeaderRejectsStatements(t *testing.T) {
	defer goleak.VerifyNone(t)

	n, _ := startNode(t, newFakeMember("me", cluster.LeaderRole("me", nil)))
	defer n.Close()

	err := n.Replicate(context.Background(), replication.Statement{Op: types.OpCreate, KeyValue: kv("k", 1.0), LeaderID: "me", Seq: 1})
	assert.ErrorIs(t, err, dberrors.ErrUnknownLeader)
}

func TestNode_RoleChangesDriveTargets(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newFakeMember("me", cluster.FollowerRole("other", "http://other"))
	n, pub := startNode(t, m)
	defer n.Close()
	assert.Nil(t, pub.currentTargets())

	m.set(cluster.LeaderRole("me", []string{"http://a", "http://b"}))
	require.Eventually(t, func() bool {
		return len(pub.currentTargets()) == 2
	}, time.Second, 5*time.Millisecond)

	m.set(cluster.CandidateRole())
	require.Eventually(t, func() bool {
		return pub.currentTargets() == nil
	}, time.Second, 5*time.Millisecond)
}
