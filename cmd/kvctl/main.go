// Command kvctl edits a node data file directly, or talks to a router or
// node over HTTP when -url is given.
//
//	kvctl -file ./data/kvdb.db add '"user:1"' '{"name":"ann"}'
//	kvctl -url http://localhost:8080 get '"user:1"'
//	kvctl -file ./data/kvdb.db scan
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"kvdb/pkg/index"
	"kvdb/pkg/rpc"
	"kvdb/pkg/store"
	"kvdb/pkg/types"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "kvctl:", err)
		os.Exit(1)
	}
}

// backend is what the commands need; the store and the HTTP client both
// provide it.
type backend interface {
	Get(ctx context.Context, key types.Key) (types.KeyValue, error)
	Create(ctx context.Context, kv types.KeyValue) (types.KeyValue, error)
	Update(ctx context.Context, kv types.KeyValue) (types.KeyValue, error)
	Delete(ctx context.Context, key types.Key) (types.KeyValue, error)
	Scan(fn func(types.KeyValue) bool) error
	Close() error
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("kvctl", flag.ContinueOnError)
	fs.SetOutput(out)
	file := fs.String("file", "./data/kvdb.db", "data file to operate on")
	engine := fs.String("index", string(index.Ordered), "index engine for -file: skipmap or hashmap")
	url := fs.String("url", "", "router or node URL; overrides -file")
	strong := fs.Bool("strong", false, "ask for a strong read (with -url)")
	timeout := fs.Duration("timeout", rpc.DefaultTimeout, "request timeout (with -url)")
	fs.Usage = func() {
		fmt.Fprintln(out, "usage: kvctl [flags] add|update <key> <value> | get|delete <key> | scan")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	var b backend
	if *url != "" {
		b = &remoteBackend{client: rpc.NewClient(*url, *timeout), strong: *strong}
	} else {
		kind, err := index.ParseKind(*engine)
		if err != nil {
			return err
		}
		local, err := openLocal(*file, kind)
		if err != nil {
			return err
		}
		b = local
	}
	defer b.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "add", "update":
		if len(rest) != 2 {
			return fmt.Errorf("%s needs a key and a value", cmd)
		}
		kv, err := parsePair(rest[0], rest[1])
		if err != nil {
			return err
		}
		if cmd == "add" {
			kv, err = b.Create(ctx, kv)
		} else {
			kv, err = b.Update(ctx, kv)
		}
		if err != nil {
			return err
		}
		return printKeyValue(out, kv)
	case "get", "delete":
		if len(rest) != 1 {
			return fmt.Errorf("%s needs a key", cmd)
		}
		key, err := types.ParseJSON([]byte(rest[0]))
		if err != nil {
			return fmt.Errorf("parse key: %w", err)
		}
		var kv types.KeyValue
		if cmd == "get" {
			kv, err = b.Get(ctx, key)
		} else {
			kv, err = b.Delete(ctx, key)
		}
		if err != nil {
			return err
		}
		return printKeyValue(out, kv)
	case "scan":
		var printErr error
		err := b.Scan(func(kv types.KeyValue) bool {
			printErr = printKeyValue(out, kv)
			return printErr == nil
		})
		if err != nil {
			return err
		}
		return printErr
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parsePair(key, value string) (types.KeyValue, error) {
	k, err := types.ParseJSON([]byte(key))
	if err != nil {
		return types.KeyValue{}, fmt.Errorf("parse key: %w", err)
	}
	v, err := types.ParseJSON([]byte(value))
	if err != nil {
		return types.KeyValue{}, fmt.Errorf("parse value: %w", err)
	}
	return types.KeyValue{Key: k, Value: v}, nil
}

func printKeyValue(out io.Writer, kv types.KeyValue) error {
	b, err := json.Marshal(kv)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

type localBackend struct {
	st *store.Store
}

func openLocal(path string, kind index.Kind) (*localBackend, error) {
	st, err := store.Open(path, store.WithIndex(kind))
	if err != nil {
		return nil, err
	}
	return &localBackend{st: st}, nil
}

func (l *localBackend) Get(_ context.Context, key types.Key) (types.KeyValue, error) {
	return l.st.Get(key)
}

func (l *localBackend) Create(_ context.Context, kv types.KeyValue) (types.KeyValue, error) {
	if err := l.st.Create(kv); err != nil {
		return types.KeyValue{}, err
	}
	return kv, nil
}

func (l *localBackend) Update(_ context.Context, kv types.KeyValue) (types.KeyValue, error) {
	if err := l.st.Update(kv); err != nil {
		return types.KeyValue{}, err
	}
	return kv, nil
}

func (l *localBackend) Delete(_ context.Context, key types.Key) (types.KeyValue, error) {
	return l.st.Delete(key)
}

func (l *localBackend) Scan(fn func(types.KeyValue) bool) error { return l.st.Range(fn) }

func (l *localBackend) Close() error { return l.st.Close() }

type remoteBackend struct {
	client *rpc.Client
	strong bool
}

func (r *remoteBackend) Get(ctx context.Context, key types.Key) (types.KeyValue, error) {
	return r.client.Get(ctx, key, r.strong)
}

func (r *remoteBackend) Create(ctx context.Context, kv types.KeyValue) (types.KeyValue, error) {
	return r.client.Create(ctx, kv)
}

func (r *remoteBackend) Update(ctx context.Context, kv types.KeyValue) (types.KeyValue, error) {
	return r.client.Update(ctx, kv)
}

func (r *remoteBackend) Delete(ctx context.Context, key types.Key) (types.KeyValue, error) {
	return r.client.Delete(ctx, key)
}

func (r *remoteBackend) Scan(func(types.KeyValue) bool) error {
	return errors.New("scan works on a local data file only")
}

func (r *remoteBackend) Close() error { return nil }
