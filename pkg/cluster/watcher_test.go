package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kvdb/internal/zktest"
	"kvdb/pkg/types"
)

func TestTopologyWatcher_TracksLeaders(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := zktest.NewServer()
	partitions := []Paths{
		{Registry: "/kvdb/p0/registry", Election: "/kvdb/p0/election"},
		{Registry: "/kvdb/p1/registry", Election: "/kvdb/p1/election"},
	}

	conn, events := srv.Connect()
	w, err := NewTopologyWatcher(conn, events, partitions, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() {
		w.Close()
		conn.Close()
	}()

	initial := w.Topology()
	require.Len(t, initial.Partitions, 2)
	assert.False(t, initial.Partitions[0].HasLeader())

	var members []*Member
	for i, addr := range []string{"http://a", "http://b", "http://c"} {
		c, ev := srv.Connect()
		m, err := NewMember(c, ev, MemberConfig{
			Paths:     partitions[0],
			Advertise: addr,
			ID:        types.NodeID([]string{"a", "b", "c"}[i]),
		}, nil)
		require.NoError(t, err)
		require.NoError(t, m.Start(context.Background()))
		members = append(members, m)
	}
	defer func() {
		for _, m := range members {
			_ = m.Close()
		}
	}()

	require.Eventually(t, func() bool {
		d, _ := w.Topology().Partition(0)
		return d.LeaderAddr == "http://a" && len(d.Followers) == 2
	}, 3*time.Second, 10*time.Millisecond)

	d, _ := w.Topology().Partition(0)
	assert.Equal(t, []Replica{{ID: "b", Addr: "http://b"}, {ID: "c", Addr: "http://c"}}, d.Followers)

	p1, _ := w.Topology().Partition(1)
	assert.False(t, p1.HasLeader(), "partition 1 has no members")

	before := w.Topology().Version
	require.NoError(t, members[0].Close())

	require.Eventually(t, func() bool {
		d, _ := w.Topology().Partition(0)
		return d.LeaderAddr == "http://b" && len(d.Followers) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Greater(t, w.Topology().Version, before)
}

func TestNewTopologyWatcher_Validation(t *testing.T) {
	srv := zktest.NewServer()
	conn, events := srv.Connect()
	defer conn.Close()

	_, err := NewTopologyWatcher(conn, events, nil, nil)
	assert.Error(t, err)

	_, err = NewTopologyWatcher(conn, events, []Paths{{Registry: "/same", Election: "/same"}}, nil)
	assert.Error(t, err)
}
