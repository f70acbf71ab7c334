package replication

import (
	"kvdb/pkg/dberrors"
	"kvdb/pkg/types"
)

// Statement is one committed mutation as shipped from a leader to its followers.
type Statement struct {
	Op       types.Op       `json:"op"`
	KeyValue types.KeyValue `json:"kv"`
	LeaderID types.NodeID   `json:"leader_id"`
	Seq      uint64         `json:"seq"`
}

func (st Statement) Validate() error {
	if !st.Op.Valid() {
		return dberrors.Validation("unknown operation %d", st.Op)
	}
	if st.LeaderID == "" {
		return dberrors.Validation("statement has no leader id")
	}
	if st.KeyValue.Key == nil {
		return dberrors.Validation("statement has no key")
	}
	if !st.Op.Tombstone() && st.KeyValue.Value == nil {
		return dberrors.Validation("%s statement has no value", st.Op)
	}
	return nil
}
