package replication

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"kvdb/pkg/dberrors"
	"kvdb/pkg/listener"
	"kvdb/pkg/metrics"
)

const (
	DefaultQueueSize = 1024
	DefaultTimeout   = 5 * time.Second
)

// Sender delivers a statement to one follower.
type Sender interface {
	Replicate(ctx context.Context, target string, st Statement) error
}

type Option func(*Replicator)

func WithQueueSize(n int) Option {
	return func(r *Replicator) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithTimeout bounds a single delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(r *Replicator) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Replication) Option {
	return func(r *Replicator) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Replicator fans committed statements out to the followers of a leader.
// Every follower gets its own bounded queue drained by exactly one worker, so
// a follower sees statements in publish order and a slow or dead follower
// never holds up the others or the client.
type Replicator struct {
	sender    Sender
	queueSize int
	timeout   time.Duration
	metrics   *metrics.Replication

	mu        sync.Mutex
	followers map[string]*follower
	closed    bool
}

type follower struct {
	target string
	queue  chan Statement
	worker *listener.Listener[Statement]
}

func New(sender Sender, opts ...Option) *Replicator {
	r := &Replicator{
		sender:    sender,
		queueSize: DefaultQueueSize,
		timeout:   DefaultTimeout,
		followers: make(map[string]*follower),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewReplication(nil)
	}
	return r
}

// SetTargets replaces the follower set. Workers for new targets are started,
// workers for targets no longer present are stopped and their queues dropped.
func (r *Replicator) SetTargets(targets []string) {
	want := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		want[t] = struct{}{}
	}

	var stale []*follower
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	for t, f := range r.followers {
		if _, ok := want[t]; !ok {
			stale = append(stale, f)
			delete(r.followers, t)
		}
	}
	for t := range want {
		if _, ok := r.followers[t]; !ok {
			r.followers[t] = r.startFollower(t)
		}
	}
	r.mu.Unlock()

	for _, f := range stale {
		r.stopFollower(f)
	}
}

func (r *Replicator) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.followers))
	for t := range r.followers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Publish enqueues st for every current follower without blocking. A full
// queue drops the statement for that follower only.
func (r *Replicator) Publish(st Statement) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for t, f := range r.followers {
		select {
		case f.queue <- st:
			r.metrics.Enqueued.WithLabelValues(t).Inc()
			r.metrics.QueueDepth.WithLabelValues(t).Set(float64(len(f.queue)))
		default:
			r.metrics.Dropped.WithLabelValues(t).Inc()
			slog.Warn("replication queue full, statement dropped",
				"target", t,
				"seq", st.Seq,
				"op", st.Op.String(),
			)
		}
	}
}

// Close stops every worker. Queued statements are abandoned.
func (r *Replicator) Close() {
	r.mu.Lock()
	r.closed = true
	followers := r.followers
	r.followers = make(map[string]*follower)
	r.mu.Unlock()

	for _, f := range followers {
		r.stopFollower(f)
	}
}

func (r *Replicator) startFollower(target string) *follower {
	f := &follower{
		target: target,
		queue:  make(chan Statement, r.queueSize),
	}
	f.worker = listener.New(
		"replicate "+target,
		f.queue,
		func(ctx context.Context, st Statement) error {
			return r.deliver(ctx, f, st)
		},
		func(st Statement, err error) {
			r.metrics.Failed.WithLabelValues(target).Inc()
			slog.Warn("replication delivery failed", "error", err)
		},
	)
	f.worker.Start(context.Background())
	slog.Info("replication target added", "target", target)
	return f
}

func (r *Replicator) stopFollower(f *follower) {
	f.worker.Stop()
	r.metrics.Forget(f.target)
	slog.Info("replication target removed", "target", f.target, "abandoned", len(f.queue))
}

func (r *Replicator) deliver(ctx context.Context, f *follower, st Statement) error {
	r.metrics.QueueDepth.WithLabelValues(f.target).Set(float64(len(f.queue)))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sender.Replicate(ctx, f.target, st); err != nil {
		if errors.Is(err, context.Canceled) {
			// worker is being stopped
			return nil
		}
		return &dberrors.ReplicationDeliveryFailure{Target: f.target, Seq: st.Seq, Err: err}
	}
	r.metrics.Delivered.WithLabelValues(f.target).Inc()
	return nil
}
