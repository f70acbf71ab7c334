package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"kvdb/pkg/types"
)

// Conn is the part of *zk.Conn the cluster package relies on.
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Exists(path string) (bool, *zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
	State() zk.State
	Close()
}

var _ Conn = (*zk.Conn)(nil)

const latchPrefix = "latch-"

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "zookeeper")
}

// Dial connects to the ensemble and waits for a session.
func Dial(ctx context.Context, servers []string, sessionTimeout time.Duration) (*zk.Conn, <-chan zk.Event, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, nil, fmt.Errorf("zk connect: %w", err)
	}
	if err := waitConnected(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, events, nil
}

func waitConnected(ctx context.Context, conn Conn) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if conn.State() == zk.StateHasSession {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("zk: no session, state=%v: %w", conn.State(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func ensurePath(conn Conn, p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := conn.Exists(cur)
		if err != nil {
			return fmt.Errorf("zk exists %s: %w", cur, err)
		}
		if exists {
			continue
		}
		_, err = conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("zk create %s: %w", cur, err)
		}
	}
	return nil
}

// Paths locates the coordination nodes of one partition.
type Paths struct {
	Registry string `yaml:"registry_path"`
	Election string `yaml:"election_path"`
}

func (p Paths) Validate() error {
	if !strings.HasPrefix(p.Registry, "/") || !strings.HasPrefix(p.Election, "/") {
		return fmt.Errorf("zk paths must be absolute: registry=%q election=%q", p.Registry, p.Election)
	}
	if p.Registry == p.Election {
		return fmt.Errorf("registry and election paths must differ: %q", p.Registry)
	}
	return nil
}

// partitionView is one consistent-enough read of a partition's nodes.
type partitionView struct {
	desc    Descriptor
	latches []string // sorted by sequence number
}

// readPartition reads registry and election children and leaves a child
// watch on both paths.
func readPartition(conn Conn, id types.PartitionID, paths Paths) (partitionView, <-chan zk.Event, <-chan zk.Event, error) {
	latches, _, electionCh, err := conn.ChildrenW(paths.Election)
	if err != nil {
		return partitionView{}, nil, nil, fmt.Errorf("zk watch %s: %w", paths.Election, err)
	}
	members, _, registryCh, err := conn.ChildrenW(paths.Registry)
	if err != nil {
		return partitionView{}, nil, nil, fmt.Errorf("zk watch %s: %w", paths.Registry, err)
	}

	latches = filterLatches(latches)
	sort.Slice(latches, func(i, j int) bool {
		return latchSeq(latches[i]) < latchSeq(latches[j])
	})

	view := partitionView{
		desc:    Descriptor{ID: id},
		latches: latches,
	}

	addrs := make(map[types.NodeID]string, len(members))
	for _, m := range members {
		data, _, err := conn.Get(path.Join(paths.Registry, m))
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return partitionView{}, nil, nil, fmt.Errorf("zk get %s: %w", m, err)
		}
		addrs[types.NodeID(m)] = string(data)
	}

	for _, latch := range latches {
		data, _, err := conn.Get(path.Join(paths.Election, latch))
		if errors.Is(err, zk.ErrNoNode) {
			// the holder left between Children and Get; the next one in line wins
			continue
		}
		if err != nil {
			return partitionView{}, nil, nil, fmt.Errorf("zk get %s: %w", latch, err)
		}
		view.desc.LeaderID = types.NodeID(data)
		view.desc.LeaderAddr = addrs[view.desc.LeaderID]
		break
	}

	for id, addr := range addrs {
		if id == view.desc.LeaderID {
			continue
		}
		view.desc.Followers = append(view.desc.Followers, Replica{ID: id, Addr: addr})
	}
	sort.Slice(view.desc.Followers, func(i, j int) bool {
		return view.desc.Followers[i].ID < view.desc.Followers[j].ID
	})
	return view, registryCh, electionCh, nil
}

func filterLatches(children []string) []string {
	out := children[:0]
	for _, c := range children {
		if strings.HasPrefix(c, latchPrefix) {
			out = append(out, c)
		}
	}
	return out
}

// latchSeq returns the 10 digit counter ZooKeeper appends to sequential nodes.
func latchSeq(name string) string {
	if len(name) < 10 {
		return name
	}
	return name[len(name)-10:]
}
