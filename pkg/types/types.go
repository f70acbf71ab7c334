package types

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Offset is a byte position of a row inside the data file.
type Offset int64

// PartitionID identifies a partition of the keyspace.
type PartitionID uint32

// NodeID identifies a registered replica (uuid assigned at registration).
type NodeID string

// Key and Value are structured values: null, number, string, bool, map, list.
type (
	Key   = *structpb.Value
	Value = *structpb.Value
)

var canonical = proto.MarshalOptions{Deterministic: true}

// KeyValue is the unit of storage.
type KeyValue struct {
	Key   Key
	Value Value
}

// EncodeValue returns the canonical byte form of v. Keys are compared by this form.
func EncodeValue(v *structpb.Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value")
	}
	return canonical.Marshal(v)
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(b []byte) (*structpb.Value, error) {
	var v structpb.Value
	if err := proto.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ParseJSON reads a plain JSON document (`"a"`, `1`, `{"x":[true]}`) into a Value.
func ParseJSON(b []byte) (*structpb.Value, error) {
	var v structpb.Value
	if err := protojson.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// MustValue builds a Value from a Go value and panics on unsupported input. Handy in tests and CLIs.
func MustValue(x any) *structpb.Value {
	v, err := structpb.NewValue(x)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns a short JSON rendering, used in logs.
func String(v *structpb.Value) string {
	if v == nil {
		return "<nil>"
	}
	b, err := json.Marshal(jsonValue{v})
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}

type jsonValue struct{ v *structpb.Value }

func (j jsonValue) MarshalJSON() ([]byte, error) {
	return protojson.Marshal(j.v)
}

type keyValueJSON struct {
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (kv KeyValue) MarshalJSON() ([]byte, error) {
	var out keyValueJSON
	if kv.Key != nil {
		b, err := protojson.Marshal(kv.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal key: %w", err)
		}
		out.Key = b
	}
	if kv.Value != nil {
		b, err := protojson.Marshal(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		out.Value = b
	}
	return json.Marshal(out)
}

func (kv *KeyValue) UnmarshalJSON(data []byte) error {
	var in keyValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kv.Key, kv.Value = nil, nil
	if len(in.Key) > 0 {
		k, err := ParseJSON(in.Key)
		if err != nil {
			return fmt.Errorf("parse key: %w", err)
		}
		kv.Key = k
	}
	if len(in.Value) > 0 {
		v, err := ParseJSON(in.Value)
		if err != nil {
			return fmt.Errorf("parse value: %w", err)
		}
		kv.Value = v
	}
	return nil
}
