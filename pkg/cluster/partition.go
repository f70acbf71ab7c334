package cluster

import (
	"github.com/cespare/xxhash/v2"

	"kvdb/pkg/dberrors"
	"kvdb/pkg/types"
)

// PartitionFor maps a key onto one of count partitions by hashing its
// canonical encoding. The mapping only depends on the key bytes and count.
func PartitionFor(key types.Key, count int) (types.PartitionID, error) {
	if count <= 0 {
		return 0, dberrors.ErrTopologyUnavailable
	}
	k, err := types.EncodeValue(key)
	if err != nil {
		return 0, dberrors.Validation("encode key: %v", err)
	}
	return types.PartitionID(xxhash.Sum64(k) % uint64(count)), nil
}
