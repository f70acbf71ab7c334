package zktest

import (
	"sync"

	"github.com/go-zookeeper/zk"
)

// Conn is one client session against a Server.
type Conn struct {
	srv    *Server
	events chan zk.Event

	// guarded by srv.mu
	session int64
	state   zk.State
	closed  bool

	closeOnce sync.Once
}

func (c *Conn) emit(ev zk.Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Conn) check() error {
	switch {
	case c.closed:
		return zk.ErrClosing
	case c.state != zk.StateHasSession:
		return zk.ErrConnectionClosed
	}
	return nil
}

func (c *Conn) Create(p string, data []byte, flags int32, _ []zk.ACL) (string, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.check(); err != nil {
		return "", err
	}
	return c.srv.create(c.session, p, data, flags)
}

func (c *Conn) Exists(p string) (bool, *zk.Stat, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.check(); err != nil {
		return false, nil, err
	}
	n, ok := c.srv.nodes[p]
	if !ok {
		return false, nil, nil
	}
	return true, stat(n), nil
}

func (c *Conn) Get(p string) ([]byte, *zk.Stat, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, nil, err
	}
	n, ok := c.srv.nodes[p]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return append([]byte(nil), n.data...), stat(n), nil
}

func (c *Conn) Children(p string) ([]string, *zk.Stat, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, nil, err
	}
	n, ok := c.srv.nodes[p]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return sortedChildren(n), stat(n), nil
}

func (c *Conn) ChildrenW(p string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, nil, nil, err
	}
	n, ok := c.srv.nodes[p]
	if !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	w := &watcher{session: c.session, ch: make(chan zk.Event, 1)}
	n.watchers = append(n.watchers, w)
	return sortedChildren(n), stat(n), w.ch, nil
}

func (c *Conn) Delete(p string, _ int32) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.srv.delete(p)
}

func (c *Conn) State() zk.State {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.state
}

func (c *Conn) SessionID() int64 {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.session
}

// Close ends the session; its ephemeral nodes disappear immediately.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.srv.mu.Lock()
		defer c.srv.mu.Unlock()
		c.closed = true
		c.srv.dropSessionLocked(c.session)
		c.state = zk.StateDisconnected
		c.emit(zk.Event{Type: zk.EventSession, State: zk.StateDisconnected})
	})
}

// Disconnect simulates a lost connection that keeps the session alive.
// Requests fail until Reconnect.
func (c *Conn) Disconnect() {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.closed {
		return
	}
	c.state = zk.StateDisconnected
	c.emit(zk.Event{Type: zk.EventSession, State: zk.StateDisconnected})
}

func (c *Conn) Reconnect() {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.closed {
		return
	}
	c.state = zk.StateHasSession
	c.emit(zk.Event{Type: zk.EventSession, State: zk.StateHasSession})
}

// Expire ends the session on the server side, deleting its ephemeral nodes,
// and then reconnects the client under a fresh session.
func (c *Conn) Expire() {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.closed {
		return
	}
	c.srv.dropSessionLocked(c.session)
	c.state = zk.StateExpired
	c.emit(zk.Event{Type: zk.EventSession, State: zk.StateExpired})
	c.srv.openSessionLocked(c)
}

func stat(n *node) *zk.Stat {
	return &zk.Stat{
		EphemeralOwner: n.owner,
		NumChildren:    int32(len(n.children)),
		DataLength:     int32(len(n.data)),
	}
}
