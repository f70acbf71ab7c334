package cluster

import (
	"errors"
	"fmt"
	"path"

	"github.com/go-zookeeper/zk"

	"kvdb/pkg/types"
)

// contend joins the election queue with an ephemeral sequential latch whose
// data is the member id. The lowest latch holds leadership. Latches left
// behind by an earlier attempt of this member are removed first.
func (m *Member) contend() error {
	if err := m.dropOwnLatches(); err != nil {
		return err
	}
	created, err := m.conn.Create(
		path.Join(m.paths.Election, latchPrefix),
		[]byte(m.id),
		zk.FlagEphemeral|zk.FlagSequence,
		zk.WorldACL(zk.PermAll),
	)
	if err != nil {
		return fmt.Errorf("zk create latch: %w", err)
	}
	m.latch = path.Base(created)
	return nil
}

func (m *Member) dropOwnLatches() error {
	children, _, err := m.conn.Children(m.paths.Election)
	if err != nil {
		return fmt.Errorf("zk children %s: %w", m.paths.Election, err)
	}
	for _, c := range filterLatches(children) {
		p := path.Join(m.paths.Election, c)
		data, _, err := m.conn.Get(p)
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return fmt.Errorf("zk get %s: %w", p, err)
		}
		if types.NodeID(data) != m.id {
			continue
		}
		if err := m.conn.Delete(p, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("zk delete %s: %w", p, err)
		}
	}
	m.latch = ""
	return nil
}

// decide derives this member's role from a partition view. ok is false when
// the member's own latch is gone and it has to contend again.
func (m *Member) decide(view partitionView) (role Role, ok bool) {
	if m.latch == "" {
		return CandidateRole(), false
	}
	pos := -1
	for i, l := range view.latches {
		if l == m.latch {
			pos = i
			break
		}
	}
	switch {
	case pos < 0:
		return CandidateRole(), false
	case view.desc.LeaderID == m.id:
		return LeaderRole(m.id, view.desc.FollowerAddrs()), true
	case view.desc.LeaderID == "":
		return CandidateRole(), true
	default:
		return FollowerRole(view.desc.LeaderID, view.desc.LeaderAddr), true
	}
}
