package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"kvdb/pkg/dberrors"
	"kvdb/pkg/rpc"
	"kvdb/pkg/types"
)

const (
	contentTypeJSON = "application/json"

	// largest accepted request body, above the biggest row plus JSON overhead
	maxBodyBytes = 24 << 20
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

// writeError renders err with its wire code. leader is set on not-leader
// responses so the caller can retry against it.
func writeError(w http.ResponseWriter, r *http.Request, err error, leader string) {
	status, code := rpc.Classify(err)
	resp := rpc.NewErrorResponse(code, err.Error())
	if code == rpc.CodeNotLeader {
		resp.Leader = leader
	}
	var remote *rpc.RemoteError
	if resp.Leader == "" && errors.As(err, &remote) {
		resp.Leader = remote.Leader
	}

	if status >= http.StatusInternalServerError {
		slog.Warn("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, resp)
}

// readKey parses the key query parameter, a JSON document.
func readKey(r *http.Request) (types.Key, error) {
	raw := r.URL.Query().Get("key")
	if raw == "" {
		return nil, dberrors.Validation("missing key")
	}
	key, err := types.ParseJSON([]byte(raw))
	if err != nil {
		return nil, dberrors.Validation("key is not a JSON document: %v", err)
	}
	return key, nil
}

// readStrong reports whether the request asks for a strong read.
func readStrong(r *http.Request) (bool, error) {
	switch c := r.URL.Query().Get("consistency"); c {
	case "", "eventual":
		return false, nil
	case "strong":
		return true, nil
	default:
		return false, dberrors.Validation("unknown consistency %q", c)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return dberrors.Validation("decode body: %v", err)
	}
	return nil
}

func decodeKeyValue(w http.ResponseWriter, r *http.Request) (types.KeyValue, error) {
	var kv types.KeyValue
	if err := decodeBody(w, r, &kv); err != nil {
		return types.KeyValue{}, err
	}
	if kv.Key == nil {
		return types.KeyValue{}, dberrors.Validation("missing key")
	}
	if kv.Value == nil {
		return types.KeyValue{}, dberrors.Validation("missing value")
	}
	return kv, nil
}
