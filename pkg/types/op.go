package types

import (
	"encoding/json"
	"fmt"
)

// Op is the kind of a mutation. It is persisted in every row and carried by replication statements.
type Op uint8

const (
	OpCreate Op = iota + 1
	OpUpdate
	OpDelete
)

var opNames = map[Op]string{
	OpCreate: "create",
	OpUpdate: "update",
	OpDelete: "delete",
}

func (op Op) Valid() bool {
	_, ok := opNames[op]
	return ok
}

// Tombstone reports whether rows of this kind remove the key.
func (op Op) Tombstone() bool { return op == OpDelete }

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

func (op Op) MarshalJSON() ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("unknown op %d", uint8(op))
	}
	return json.Marshal(op.String())
}

func (op *Op) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for k, name := range opNames {
		if name == s {
			*op = k
			return nil
		}
	}
	return fmt.Errorf("unknown op %q", s)
}
