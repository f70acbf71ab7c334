package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"

	"kvdb/pkg/metrics"
	"kvdb/pkg/types"
)

const retryInterval = time.Second

type MemberConfig struct {
	Paths     Paths
	Advertise string       // URL other nodes use to reach this member
	ID        types.NodeID // generated when empty
	Partition types.PartitionID
}

// Member registers a node in its partition, takes part in the leader
// election and reports role changes. All coordination state is owned by a
// single goroutine; other goroutines only read the published role.
type Member struct {
	conn     Conn
	sessions <-chan zk.Event
	paths    Paths
	addr     string
	id       types.NodeID
	part     types.PartitionID
	metrics  *metrics.Cluster

	// owned by the run goroutine after Start
	latch      string
	registered bool
	expired    bool

	mu      sync.RWMutex
	role    Role
	changes chan Role

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewMember(conn Conn, sessions <-chan zk.Event, cfg MemberConfig, m *metrics.Cluster) (*Member, error) {
	if err := cfg.Paths.Validate(); err != nil {
		return nil, err
	}
	if cfg.Advertise == "" {
		return nil, errors.New("member needs an advertised address")
	}
	id := cfg.ID
	if id == "" {
		id = types.NodeID(uuid.NewString())
	}
	if m == nil {
		m = metrics.NewCluster(nil)
	}
	return &Member{
		conn:     conn,
		sessions: sessions,
		paths:    cfg.Paths,
		addr:     cfg.Advertise,
		id:       id,
		part:     cfg.Partition,
		metrics:  m,
		role:     CandidateRole(),
		changes:  make(chan Role, 1),
		cancel:   func() {},
	}, nil
}

func (m *Member) ID() types.NodeID { return m.id }

func (m *Member) Role() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

// Changes delivers the latest role whenever it changes. A slow reader only
// misses intermediate roles, never the newest one.
func (m *Member) Changes() <-chan Role { return m.changes }

// Start registers the member, joins the election and begins tracking the
// partition. The first role is computed before Start returns.
func (m *Member) Start(ctx context.Context) error {
	for _, p := range []string{m.paths.Registry, m.paths.Election} {
		if err := ensurePath(m.conn, p); err != nil {
			return err
		}
	}
	if err := m.join(); err != nil {
		return err
	}

	view, registryCh, electionCh, err := readPartition(m.conn, m.part, m.paths)
	if err != nil {
		return err
	}
	m.apply(view)

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx, registryCh, electionCh)
	return nil
}

func (m *Member) join() error {
	_, err := m.conn.Create(
		path.Join(m.paths.Registry, string(m.id)),
		[]byte(m.addr),
		zk.FlagEphemeral,
		zk.WorldACL(zk.PermAll),
	)
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("zk register: %w", err)
	}
	m.registered = true
	if err := m.contend(); err != nil {
		return err
	}
	slog.Info("member joined partition",
		"id", m.id,
		"partition", m.part,
		"addr", m.addr,
		"latch", m.latch,
	)
	return nil
}

func (m *Member) run(ctx context.Context, registryCh, electionCh <-chan zk.Event) {
	defer close(m.done)

	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.sessions:
			if !ok {
				m.sessions = nil
				continue
			}
			if !m.onSession(ev) {
				continue
			}
		case ev, ok := <-registryCh:
			if !ok {
				registryCh = nil
			}
			m.logWatch(ev)
		case ev, ok := <-electionCh:
			if !ok {
				electionCh = nil
			}
			m.logWatch(ev)
		case <-retry:
		}

		retry = nil
		var err error
		registryCh, electionCh, err = m.refresh()
		if err != nil {
			slog.Warn("partition refresh failed", "partition", m.part, "error", err)
			m.publish(CandidateRole())
			retry = time.After(retryInterval)
		}
	}
}

func (m *Member) logWatch(ev zk.Event) {
	if ev.Type == zk.EventNotWatching {
		slog.Debug("watch dropped", "path", ev.Path, "error", ev.Err)
	}
}

// onSession reacts to a session state change and reports whether the role
// has to be recomputed.
func (m *Member) onSession(ev zk.Event) bool {
	if ev.Type != zk.EventSession {
		return false
	}
	m.metrics.SessionEvents.WithLabelValues(ev.State.String()).Inc()

	switch ev.State {
	case zk.StateDisconnected:
		// the lock may already be lost; stop acting as leader until the session is confirmed
		slog.Warn("coordination session disconnected", "id", m.id)
		m.publish(CandidateRole())
		return false
	case zk.StateExpired:
		slog.Warn("coordination session expired", "id", m.id)
		m.expired = true
		m.registered = false
		m.latch = ""
		m.publish(CandidateRole())
		return false
	case zk.StateHasSession:
		return true
	default:
		return false
	}
}

// refresh re-registers after an expiry, reads the partition and publishes
// the resulting role.
func (m *Member) refresh() (<-chan zk.Event, <-chan zk.Event, error) {
	if !m.registered {
		if err := m.join(); err != nil {
			return nil, nil, err
		}
		if m.expired {
			slog.Info("member re-registered after session expiry", "id", m.id)
			m.expired = false
		}
	}

	view, registryCh, electionCh, err := readPartition(m.conn, m.part, m.paths)
	if err != nil {
		return nil, nil, err
	}
	if !m.apply(view) {
		// our nodes vanished, possibly ahead of the expiry event; join again
		if err := m.join(); err != nil {
			return nil, nil, err
		}
		view, registryCh, electionCh, err = readPartition(m.conn, m.part, m.paths)
		if err != nil {
			return nil, nil, err
		}
		m.apply(view)
	}
	return registryCh, electionCh, nil
}

func (m *Member) apply(view partitionView) bool {
	role, ok := m.decide(view)
	m.publish(role)
	return ok
}

func (m *Member) publish(role Role) {
	m.mu.Lock()
	prev := m.role
	m.role = role
	m.mu.Unlock()

	if prev.Equal(role) {
		return
	}
	m.metrics.SetRole(role.Kind.String())
	m.metrics.RoleChanges.Inc()
	slog.Info("role changed",
		"id", m.id,
		"partition", m.part,
		"from", prev.Kind.String(),
		"to", role.Kind.String(),
		"leader", role.LeaderID,
		"targets", len(role.Targets),
	)

	// single sender: after draining, the send cannot block
	select {
	case <-m.changes:
	default:
	}
	m.changes <- role
}

// Close releases leadership and registration and ends the session.
func (m *Member) Close() error {
	m.once.Do(func() {
		m.cancel()
		if m.done != nil {
			<-m.done
		}
		m.publish(CandidateRole())

		for _, p := range []string{
			path.Join(m.paths.Election, m.latch),
			path.Join(m.paths.Registry, string(m.id)),
		} {
			if p == m.paths.Election {
				// never joined the election
				continue
			}
			if err := m.conn.Delete(p, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
				slog.Warn("zk delete on close", "path", p, "error", err)
			}
		}
		m.conn.Close()
		slog.Info("member left partition", "id", m.id, "partition", m.part)
	})
	return nil
}
