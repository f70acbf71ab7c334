package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"google.golang.org/protobuf/proto"

	"kvdb/pkg/dberrors"
	"kvdb/pkg/index"
	"kvdb/pkg/types"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(filepath.Join(dir, "node.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func kv(key, value any) types.KeyValue {
	return types.KeyValue{Key: types.MustValue(key), Value: types.MustValue(value)}
}

func TestStore_CreateGet(t *testing.T) {
	store := openStore(t, t.TempDir())

	if err := store.Create(kv("key1", "value1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(types.MustValue("key1"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Value.GetStringValue() != "value1" {
		t.Fatalf("Expected 'value1', got %s", types.String(got.Value))
	}
}

func TestStore_RoundTripIsByteIdentical(t *testing.T) {
	store := openStore(t, t.TempDir())

	in := kv(
		map[string]any{"user": "ann", "tags": []any{"a", 1.5, true, nil}},
		map[string]any{"nested": map[string]any{"n": 42.0, "ok": false}, "list": []any{}},
	)
	if err := store.Create(in); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	out, err := store.Get(in.Key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	wantK, _ := types.EncodeValue(in.Key)
	gotK, _ := types.EncodeValue(out.Key)
	wantV, _ := types.EncodeValue(in.Value)
	gotV, _ := types.EncodeValue(out.Value)
	if string(wantK) != string(gotK) || string(wantV) != string(gotV) {
		t.Fatalf("round trip changed bytes: key %x/%x value %x/%x", wantK, gotK, wantV, gotV)
	}
	if !proto.Equal(in.Value, out.Value) {
		t.Fatalf("value mismatch: %s vs %s", types.String(in.Value), types.String(out.Value))
	}
}

func TestStore_CreateExistingKey(t *testing.T) {
	store := openStore(t, t.TempDir())

	if err := store.Create(kv("k", 1.0)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(kv("k", 2.0)); !errors.Is(err, dberrors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestStore_UpdateMissingKey(t *testing.T) {
	store := openStore(t, t.TempDir())

	if err := store.Update(kv("missing", "x")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Delete(types.MustValue("missing")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Overwrite(t *testing.T) {
	store := openStore(t, t.TempDir())

	if err := store.Create(kv("key1", "value1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Update(kv("key1", "value2")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(types.MustValue("key1"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Value.GetStringValue() != "value2" {
		t.Fatalf("Expected 'value2', got %s", types.String(got.Value))
	}
}

func TestStore_Delete(t *testing.T) {
	store := openStore(t, t.TempDir())

	if err := store.Create(kv("key1", "value1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	removed, err := store.Delete(types.MustValue("key1"))
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if removed.Value.GetStringValue() != "value1" {
		t.Fatalf("Delete returned %s, want value1", types.String(removed.Value))
	}

	if _, err := store.Get(types.MustValue("key1")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// the key can be created again after a tombstone
	if err := store.Create(kv("key1", "value3")); err != nil {
		t.Fatalf("Create after delete failed: %v", err)
	}
}

func TestStore_NotFoundIsStableAcrossUnrelatedWrites(t *testing.T) {
	store := openStore(t, t.TempDir())
	absent := types.MustValue("never-written")

	if _, err := store.Get(absent); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := store.Create(kv(float64(i), "v")); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if _, err := store.Delete(types.MustValue(7.0)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(absent); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Validation(t *testing.T) {
	store := openStore(t, t.TempDir())

	cases := []types.KeyValue{
		{Key: nil, Value: types.MustValue("v")},
		{Key: types.MustValue(nil), Value: types.MustValue("v")},
		{Key: types.MustValue("k"), Value: nil},
	}
	for i, c := range cases {
		if err := store.Create(c); !errors.Is(err, dberrors.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
	if store.Stats().FileBytes != 0 {
		t.Fatalf("rejected writes must not touch the file")
	}
}

func TestStore_GuardAbortsWrite(t *testing.T) {
	store := openStore(t, t.TempDir())
	revoked := func() error { return dberrors.ErrLeadershipRevoked }

	err := store.Create(kv("k", "v"), revoked)
	if !errors.Is(err, dberrors.ErrLeadershipRevoked) {
		t.Fatalf("expected ErrLeadershipRevoked, got %v", err)
	}
	if !errors.Is(err, dberrors.ErrTopologyUnavailable) {
		t.Fatalf("revocation must be a topology error, got %v", err)
	}
	if _, err := store.Get(types.MustValue("k")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("guarded write leaked into the store: %v", err)
	}
	if store.Stats().FileBytes != 0 {
		t.Fatalf("guarded write appended a row")
	}
}

func TestStore_ApplyIsIdempotent(t *testing.T) {
	store := openStore(t, t.TempDir())

	statements := []struct {
		op types.Op
		kv types.KeyValue
	}{
		{types.OpCreate, kv("a", "1")},
		{types.OpUpdate, kv("a", "2")},
		{types.OpCreate, kv("b", "1")},
		{types.OpDelete, types.KeyValue{Key: types.MustValue("b")}},
	}
	for round := 0; round < 2; round++ {
		for _, st := range statements {
			if err := store.Apply(st.op, st.kv); err != nil {
				t.Fatalf("round %d: Apply(%s) failed: %v", round, st.op, err)
			}
		}
	}

	got, err := store.Get(types.MustValue("a"))
	if err != nil || got.Value.GetStringValue() != "2" {
		t.Fatalf("a = %v, %v; want 2", got.Value, err)
	}
	if _, err := store.Get(types.MustValue("b")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("b should be deleted, got %v", err)
	}
	if n := store.Stats().Keys; n != 1 {
		t.Fatalf("expected 1 live key, got %d", n)
	}
}

func TestStore_CommitHookSeesClientWritesInOrder(t *testing.T) {
	store := openStore(t, t.TempDir())

	var ops []types.Op
	store.OnCommit(func(op types.Op, _ types.KeyValue) {
		ops = append(ops, op)
	})

	if err := store.Create(kv("k", "1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(kv("k", "dup")); err == nil {
		t.Fatalf("duplicate Create must fail")
	}
	if err := store.Update(kv("k", "2")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := store.Apply(types.OpCreate, kv("other", "x")); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := store.Delete(types.MustValue("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	want := []types.Op{types.OpCreate, types.OpUpdate, types.OpDelete}
	if len(ops) != len(want) {
		t.Fatalf("hook saw %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("hook saw %v, want %v", ops, want)
		}
	}
}

func TestStore_ReopenWithEitherIndexEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := s.Create(kv(fmt.Sprintf("k%02d", i), float64(i))); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if err := s.Update(kv("k03", "three")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := s.Delete(types.MustValue("k07")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	want := s.Snapshot()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, kind := range []index.Kind{index.Ordered, index.Hash} {
		t.Run(string(kind), func(t *testing.T) {
			s, err := Open(path, WithIndex(kind))
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer s.Close()

			if got := s.Snapshot(); !reflect.DeepEqual(got, want) {
				t.Fatalf("index mismatch: got %v, want %v", got, want)
			}
			got, err := s.Get(types.MustValue("k03"))
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Value.GetStringValue() != "three" {
				t.Fatalf("Expected 'three', got %s", types.String(got.Value))
			}
			if _, err := s.Get(types.MustValue("k07")); !errors.Is(err, dberrors.ErrNotFound) {
				t.Fatalf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_UnknownIndexEngine(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "node.db"), WithIndex("btree")); err == nil {
		t.Fatalf("Open with an unknown index engine must fail")
	}
}
