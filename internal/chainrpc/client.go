// Package chainrpc is the thin HTTP JSON-RPC transport shared by the
// Bitcoin and Ethereum clients: parse every response as a generic
// envelope, then let the caller narrow
// the result. Bitcoin Core speaks JSON-RPC 1.0 over HTTP Basic auth;
// Ethereum nodes speak 2.0 with no auth — both fit the same envelope
// shape, so one client parameterized by auth covers both.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/finchgate/gateway/internal/chainerr"
)

// Client is a single-endpoint JSON-RPC caller. Unlike a multi-endpoint
// failover pool, the gateway talks to exactly one node per chain; retry
// policy lives in the poller, not here.
type Client struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
	requestID  atomic.Int64
}

// New constructs a client against a single RPC endpoint. username/
// password are empty for Ethereum nodes and the BTC node's RPC
// credentials otherwise.
func New(endpoint, username, password string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

// Call executes one JSON-RPC request and returns the raw result payload.
// A JSON `null` result is surfaced as chainerr.CodeEmptyResponse so
// pollers can distinguish "not found yet" from a real failure and retry
// without incrementing their retry count.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, chainerr.Fatalf(chainerr.CodeRPCError, "marshal request for %s", err, method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, chainerr.Fatalf(chainerr.CodeRPCError, "build request for %s", err, method)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCTimeout, "%s request failed", err, method)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "read %s response body", err, method)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, chainerr.Fatalf(chainerr.CodeRPCError, "%s: unauthorized (check RPC credentials)", nil, method)
	}
	if resp.StatusCode >= 500 {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "%s: server returned %d", nil, method, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "%s: decode envelope: %s", err, method, string(raw))
	}
	if env.Error != nil {
		return nil, chainerr.Transientf(chainerr.CodeRPCError, "%s: node returned error: %s", env.Error, method, env.Error.Message)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil, chainerr.Transientf(chainerr.CodeEmptyResponse, "%s: empty result", nil, method)
	}
	return env.Result, nil
}

// IsEmptyResponse reports whether err is the chainerr.CodeEmptyResponse
// sentinel, the one transient condition a poller retries without
// incrementing retry_count.
func IsEmptyResponse(err error) bool {
	ce, ok := err.(*chainerr.ChainErr)
	if !ok {
		return false
	}
	return ce.Code == chainerr.CodeEmptyResponse
}
