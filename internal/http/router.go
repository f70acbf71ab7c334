package http

import (
	"context"
	"net/http"

	"kvdb/pkg/cluster"
	"kvdb/pkg/rpc"
	"kvdb/pkg/types"
)

// RouterAPI is what the router server needs from the request router.
type RouterAPI interface {
	Topology() *cluster.Topology
	Get(ctx context.Context, key types.Key, c cluster.Consistency) (types.KeyValue, error)
	Create(ctx context.Context, kv types.KeyValue) (types.KeyValue, error)
	Update(ctx context.Context, kv types.KeyValue) (types.KeyValue, error)
	Delete(ctx context.Context, key types.Key) (types.KeyValue, error)
}

type routerHandlers struct {
	router RouterAPI
}

// NewRouterServer exposes the client API in front of all partitions.
func NewRouterServer(router RouterAPI, opts Options) *Server {
	s := newServer("router", opts)
	h := &routerHandlers{router: router}

	s.router.Get(rpc.PathKV, h.handleGet)
	s.router.Post(rpc.PathKV, h.handleCreate)
	s.router.Put(rpc.PathKV, h.handleUpdate)
	s.router.Delete(rpc.PathKV, h.handleDelete)
	s.router.Get(rpc.PathTopology, h.handleTopology)
	return s
}

func (h *routerHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := readKey(r)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	strong, err := readStrong(r)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	c := cluster.Eventual
	if strong {
		c = cluster.Strong
	}
	kv, err := h.router.Get(r.Context(), key, c)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, kv)
}

func (h *routerHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	kv, err := decodeKeyValue(w, r)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	stored, err := h.router.Create(r.Context(), kv)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *routerHandlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kv, err := decodeKeyValue(w, r)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	stored, err := h.router.Update(r.Context(), kv)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *routerHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := readKey(r)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	removed, err := h.router.Delete(r.Context(), key)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (h *routerHandlers) handleTopology(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Topology())
}
