package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"

	"kvdb/pkg/dberrors"
	"kvdb/pkg/replication"
	"kvdb/pkg/types"
)

const (
	contentTypeJSON = "application/json"

	PathKV        = "/api/kv"
	PathReplicate = "/api/internal/replicate"
	PathRole      = "/api/role"
	PathTopology  = "/api/topology"

	DefaultTimeout = 5 * time.Second
)

// Client talks to one node or router over HTTP/JSON.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return newClient(baseURL, &http.Client{Timeout: timeout})
}

func newClient(baseURL string, hc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  hc,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// keyQuery renders key as the JSON document carried in the key query parameter.
func keyQuery(key types.Key) (string, error) {
	if key == nil {
		return "", dberrors.Validation("key must be set")
	}
	b, err := protojson.Marshal(key)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(b)), nil
}

func (c *Client) Get(ctx context.Context, key types.Key, strong bool) (types.KeyValue, error) {
	q, err := keyQuery(key)
	if err != nil {
		return types.KeyValue{}, fmt.Errorf("encode key: %w", err)
	}
	u := c.baseURL + PathKV + "?key=" + q
	if strong {
		u += "&consistency=strong"
	}

	var out types.KeyValue
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return types.KeyValue{}, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, kv types.KeyValue) (types.KeyValue, error) {
	var out types.KeyValue
	if err := c.do(ctx, http.MethodPost, c.baseURL+PathKV, kv, &out); err != nil {
		return types.KeyValue{}, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, kv types.KeyValue) (types.KeyValue, error) {
	var out types.KeyValue
	if err := c.do(ctx, http.MethodPut, c.baseURL+PathKV, kv, &out); err != nil {
		return types.KeyValue{}, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, key types.Key) (types.KeyValue, error) {
	q, err := keyQuery(key)
	if err != nil {
		return types.KeyValue{}, fmt.Errorf("encode key: %w", err)
	}
	var out types.KeyValue
	if err := c.do(ctx, http.MethodDelete, c.baseURL+PathKV+"?key="+q, nil, &out); err != nil {
		return types.KeyValue{}, err
	}
	return out, nil
}

// Replicate ships one statement to this client's node.
func (c *Client) Replicate(ctx context.Context, st replication.Statement) error {
	return c.do(ctx, http.MethodPost, c.baseURL+PathReplicate, st, nil)
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", method, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s body: %w", method, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var r Response
		_ = json.Unmarshal(b, &r)
		if r.Error == "" {
			r.Error = strings.TrimSpace(string(b))
		}
		return remoteError(resp.StatusCode, r)
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return fmt.Errorf("decode %s body: %w body=%s", method, err, string(b))
		}
	}
	return nil
}

// Sender delivers replication statements to arbitrary followers over one
// shared HTTP client.
type Sender struct {
	hc *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	return &Sender{hc: &http.Client{Timeout: timeout}}
}

func (s *Sender) Replicate(ctx context.Context, target string, st replication.Statement) error {
	return newClient(target, s.hc).Replicate(ctx, st)
}

var _ replication.Sender = (*Sender)(nil)
