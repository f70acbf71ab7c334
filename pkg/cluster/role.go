package cluster

import (
	"slices"

	"kvdb/pkg/types"
)

type RoleKind uint8

const (
	Candidate RoleKind = iota
	Follower
	Leader
)

func (k RoleKind) String() string {
	switch k {
	case Leader:
		return "leader"
	case Follower:
		return "follower"
	default:
		return "candidate"
	}
}

func (k RoleKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Role is what a member currently is within its partition. Only the fields
// of the active kind are set: Targets for a leader, LeaderID and LeaderAddr
// for a follower.
type Role struct {
	Kind       RoleKind     `json:"kind"`
	LeaderID   types.NodeID `json:"leader_id,omitempty"`
	LeaderAddr string       `json:"leader_addr,omitempty"`
	Targets    []string     `json:"targets,omitempty"`
}

func CandidateRole() Role {
	return Role{Kind: Candidate}
}

func LeaderRole(self types.NodeID, targets []string) Role {
	return Role{Kind: Leader, LeaderID: self, Targets: targets}
}

func FollowerRole(leaderID types.NodeID, leaderAddr string) Role {
	return Role{Kind: Follower, LeaderID: leaderID, LeaderAddr: leaderAddr}
}

func (r Role) IsLeader() bool {
	return r.Kind == Leader
}

func (r Role) Equal(o Role) bool {
	return r.Kind == o.Kind &&
		r.LeaderID == o.LeaderID &&
		r.LeaderAddr == o.LeaderAddr &&
		slices.Equal(r.Targets, o.Targets)
}
