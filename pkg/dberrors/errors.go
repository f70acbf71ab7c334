package dberrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("kvdb: not found")
	ErrAlreadyExists = errors.New("kvdb: already exists")
	ErrValidation    = errors.New("kvdb: validation failed")
	ErrClosed        = errors.New("kvdb: closed")

	// ErrTopologyUnavailable means no leader is known for a partition or the
	// coordination service cannot be reached.
	ErrTopologyUnavailable = errors.New("kvdb: topology unavailable")
	// ErrNotLeader is returned by a follower asked to accept a client write.
	ErrNotLeader = fmt.Errorf("%w: not the partition leader", ErrTopologyUnavailable)
	// ErrLeadershipRevoked is returned when leadership is lost before a write commits.
	ErrLeadershipRevoked = fmt.Errorf("%w: leadership revoked", ErrTopologyUnavailable)
	// ErrUnknownLeader rejects replication statements from a node that is not the recognized leader.
	ErrUnknownLeader = errors.New("kvdb: statement from unrecognized leader")
)

// Validation wraps ErrValidation with a human readable reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StorageError reports an I/O failure or a corrupt row.
type StorageError struct {
	Op     string
	Offset int64
	Err    error
}

func (e *StorageError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("kvdb: storage %s at offset %d: %v", e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("kvdb: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ReplicationDeliveryFailure is logged by the leader and never returned to clients.
type ReplicationDeliveryFailure struct {
	Target string
	Seq    uint64
	Err    error
}

func (e *ReplicationDeliveryFailure) Error() string {
	return fmt.Sprintf("kvdb: replicate seq=%d to %s: %v", e.Seq, e.Target, e.Err)
}

func (e *ReplicationDeliveryFailure) Unwrap() error { return e.Err }
