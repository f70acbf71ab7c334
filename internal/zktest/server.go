// Package zktest is an in-memory stand-in for a ZooKeeper ensemble. It
// implements the subset of *zk.Conn used by the cluster package, including
// ephemeral and sequential nodes, one-shot child watches and session expiry.
package zktest

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-zookeeper/zk"
)

type node struct {
	data     []byte
	owner    int64 // session id for ephemeral nodes, 0 otherwise
	children map[string]struct{}
	seq      int64
	watchers []*watcher
}

type watcher struct {
	session int64
	ch      chan zk.Event
}

// Server holds the shared tree. Any number of sessions can connect to it.
type Server struct {
	mu       sync.Mutex
	nodes    map[string]*node
	sessions map[int64]*Conn
	nextID   int64
}

func NewServer() *Server {
	return &Server{
		nodes: map[string]*node{
			"/": {children: map[string]struct{}{}},
		},
		sessions: make(map[int64]*Conn),
	}
}

// Connect opens a new session. The returned channel carries session state
// events the way zk.Connect's does.
func (s *Server) Connect() (*Conn, <-chan zk.Event) {
	c := &Conn{
		srv:    s,
		events: make(chan zk.Event, 64),
	}

	s.mu.Lock()
	s.openSessionLocked(c)
	s.mu.Unlock()

	return c, c.events
}

func (s *Server) openSessionLocked(c *Conn) {
	s.nextID++
	c.session = s.nextID
	c.state = zk.StateHasSession
	s.sessions[c.session] = c
	c.emit(zk.Event{Type: zk.EventSession, State: zk.StateConnected})
	c.emit(zk.Event{Type: zk.EventSession, State: zk.StateHasSession})
}

// Exists reports whether p is present. For tests.
func (s *Server) Exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[p]
	return ok
}

// Children lists the children of p in sorted order. For tests.
func (s *Server) Children(p string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return nil
	}
	return sortedChildren(n)
}

func sortedChildren(n *node) []string {
	out := make([]string, 0, len(n.children))
	for c := range n.children {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *Server) create(session int64, p string, data []byte, flags int32) (string, error) {
	if p == "" || p[0] != '/' || (len(p) > 1 && strings.HasSuffix(p, "/")) {
		return "", zk.ErrInvalidPath
	}
	parentPath := path.Dir(p)
	parent, ok := s.nodes[parentPath]
	if !ok {
		return "", zk.ErrNoNode
	}
	if parent.owner != 0 {
		return "", zk.ErrNoChildrenForEphemerals
	}
	if flags&zk.FlagSequence != 0 {
		p = fmt.Sprintf("%s%010d", p, parent.seq)
		parent.seq++
	}
	if _, exists := s.nodes[p]; exists {
		return "", zk.ErrNodeExists
	}

	n := &node{
		data:     append([]byte(nil), data...),
		children: map[string]struct{}{},
	}
	if flags&zk.FlagEphemeral != 0 {
		n.owner = session
	}
	s.nodes[p] = n
	parent.children[path.Base(p)] = struct{}{}
	s.fireLocked(parentPath, zk.EventNodeChildrenChanged)
	return p, nil
}

func (s *Server) delete(p string) error {
	n, ok := s.nodes[p]
	if !ok {
		return zk.ErrNoNode
	}
	if len(n.children) > 0 {
		return zk.ErrNotEmpty
	}
	s.fireLocked(p, zk.EventNodeDeleted)
	delete(s.nodes, p)
	parentPath := path.Dir(p)
	if parent, ok := s.nodes[parentPath]; ok {
		delete(parent.children, path.Base(p))
		s.fireLocked(parentPath, zk.EventNodeChildrenChanged)
	}
	return nil
}

// fireLocked triggers and clears the one-shot watches on p.
func (s *Server) fireLocked(p string, typ zk.EventType) {
	n, ok := s.nodes[p]
	if !ok {
		return
	}
	ws := n.watchers
	n.watchers = nil
	for _, w := range ws {
		w.ch <- zk.Event{Type: typ, Path: p}
		close(w.ch)
	}
}

// dropSessionLocked removes the ephemeral nodes of session and cancels its watches.
func (s *Server) dropSessionLocked(session int64) {
	var owned []string
	for p, n := range s.nodes {
		if n.owner == session {
			owned = append(owned, p)
		}
	}
	sort.Strings(owned)
	for _, p := range owned {
		_ = s.delete(p)
	}

	for p, n := range s.nodes {
		kept := n.watchers[:0]
		for _, w := range n.watchers {
			if w.session == session {
				w.ch <- zk.Event{Type: zk.EventNotWatching, Path: p, Err: zk.ErrSessionExpired}
				close(w.ch)
				continue
			}
			kept = append(kept, w)
		}
		n.watchers = kept
	}
	delete(s.sessions, session)
}
