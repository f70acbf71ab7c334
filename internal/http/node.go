package http

import (
	"context"
	"net/http"

	"kvdb/pkg/cluster"
	"kvdb/pkg/replication"
	"kvdb/pkg/rpc"
	"kvdb/pkg/store"
	"kvdb/pkg/types"
)

// NodeAPI is what the node server needs from a storage node.
type NodeAPI interface {
	ID() types.NodeID
	Role() cluster.Role
	Stats() store.Stats

	Get(ctx context.Context, key types.Key, strong bool) (types.KeyValue, error)
	Create(ctx context.Context, kv types.KeyValue) (types.KeyValue, error)
	Update(ctx context.Context, kv types.KeyValue) (types.KeyValue, error)
	Delete(ctx context.Context, key types.Key) (types.KeyValue, error)
	Replicate(ctx context.Context, st replication.Statement) error
}

// RoleResponse is served on the role endpoint.
type RoleResponse struct {
	ID    types.NodeID `json:"id"`
	Role  cluster.Role `json:"role"`
	Stats store.Stats  `json:"stats"`
}

type nodeHandlers struct {
	node NodeAPI
}

// NewNodeServer serves the client API of one storage node plus the
// replication endpoint its leader posts to.
func NewNodeServer(node NodeAPI, opts Options) *Server {
	s := newServer("node", opts)
	h := &nodeHandlers{node: node}

	s.router.Get(rpc.PathKV, h.handleGet)
	s.router.Post(rpc.PathKV, h.handleCreate)
	s.router.Put(rpc.PathKV, h.handleUpdate)
	s.router.Delete(rpc.PathKV, h.handleDelete)
	s.router.Get(rpc.PathRole, h.handleRole)
	s.router.Post(rpc.PathReplicate, h.handleReplicate)
	return s
}

func (h *nodeHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err, h.node.Role().LeaderAddr)
}

func (h *nodeHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := readKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	strong, err := readStrong(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	kv, err := h.node.Get(r.Context(), key, strong)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kv)
}

func (h *nodeHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	kv, err := decodeKeyValue(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stored, err := h.node.Create(r.Context(), kv)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *nodeHandlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kv, err := decodeKeyValue(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stored, err := h.node.Update(r.Context(), kv)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *nodeHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := readKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	removed, err := h.node.Delete(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (h *nodeHandlers) handleRole(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RoleResponse{
		ID:    h.node.ID(),
		Role:  h.node.Role(),
		Stats: h.node.Stats(),
	})
}

func (h *nodeHandlers) handleReplicate(w http.ResponseWriter, r *http.Request) {
	var st replication.Statement
	if err := decodeBody(w, r, &st); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.node.Replicate(r.Context(), st); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.NewSuccessResponse())
}
