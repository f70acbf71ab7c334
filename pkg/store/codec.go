package store

import (
	"google.golang.org/protobuf/types/known/structpb"

	"kvdb/pkg/dberrors"
	"kvdb/pkg/storage"
	"kvdb/pkg/types"
)

// ValidateKey rejects keys that cannot be stored.
func ValidateKey(key types.Key) error {
	_, err := encodeKey(key)
	return err
}

// ValidateKeyValue rejects pairs that cannot be stored.
func ValidateKeyValue(kv types.KeyValue) error {
	_, _, err := encodeKeyValue(kv)
	return err
}

func encodeKey(key types.Key) ([]byte, error) {
	if key == nil || key.GetKind() == nil {
		return nil, dberrors.Validation("key must be set")
	}
	if _, ok := key.GetKind().(*structpb.Value_NullValue); ok {
		return nil, dberrors.Validation("key must not be null")
	}
	k, err := types.EncodeValue(key)
	if err != nil {
		return nil, dberrors.Validation("encode key: %v", err)
	}
	if len(k) > storage.MaxKeySize {
		return nil, dberrors.Validation("key is %d bytes, limit is %d", len(k), storage.MaxKeySize)
	}
	return k, nil
}

func encodeKeyValue(kv types.KeyValue) ([]byte, []byte, error) {
	k, err := encodeKey(kv.Key)
	if err != nil {
		return nil, nil, err
	}
	if kv.Value == nil || kv.Value.GetKind() == nil {
		return nil, nil, dberrors.Validation("value must be set")
	}
	v, err := types.EncodeValue(kv.Value)
	if err != nil {
		return nil, nil, dberrors.Validation("encode value: %v", err)
	}
	if len(v) > storage.MaxValueSize {
		return nil, nil, dberrors.Validation("value is %d bytes, limit is %d", len(v), storage.MaxValueSize)
	}
	return k, v, nil
}

func decodeRow(r storage.Row, off int64) (types.KeyValue, error) {
	key, err := types.DecodeValue(r.Key)
	if err != nil {
		return types.KeyValue{}, &dberrors.StorageError{Op: "decode key", Offset: off, Err: err}
	}
	value, err := types.DecodeValue(r.Value)
	if err != nil {
		return types.KeyValue{}, &dberrors.StorageError{Op: "decode value", Offset: off, Err: err}
	}
	return types.KeyValue{Key: key, Value: value}, nil
}
