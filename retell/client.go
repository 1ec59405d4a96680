package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBase = "https://api.retellai.com"

// Call statuses as reported by the provider.
const (
	CallStatusRegistered = "registered"
	CallStatusOngoing    = "ongoing"
	CallStatusEnded      = "ended"
	CallStatusError      = "error"
)

type Call struct {
	CallID     string `json:"call_id"`
	AgentID    string `json:"agent_id"`
	CallStatus string `json:"call_status"`
}

// WebCall is the result of registering a browser call with the provider.
// The access token is handed to the client SDK to join the call.
type WebCall struct {
	CallID      string `json:"call_id"`
	AgentID     string `json:"agent_id"`
	AccessToken string `json:"access_token"`
	CallStatus  string `json:"call_status"`
}

type Client struct {
	apiKey  string
	http    *http.Client
	baseURL string
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultBase,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListCalls fetches up to limit recent calls, newest first.
func (c *Client) ListCalls(ctx context.Context, limit int) ([]Call, error) {
	body := map[string]any{"limit": limit}

	var calls []Call
	if err := c.doJSON(ctx, http.MethodPost, "/v2/list-calls", body, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// CountOngoingCalls is the fresh concurrency read behind every admission
// decision. No caching: stale counts would let the queue drift.
func (c *Client) CountOngoingCalls(ctx context.Context) (int, error) {
	calls, err := c.ListCalls(ctx, 50)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, call := range calls {
		if call.CallStatus == CallStatusOngoing {
			count++
		}
	}
	return count, nil
}

func (c *Client) GetCall(ctx context.Context, callID string) (*Call, error) {
	var call Call
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v2/get-call/%s", callID), nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// CreateWebCall registers a browser session against the given agent.
func (c *Client) CreateWebCall(ctx context.Context, agentID string, metadata map[string]any) (*WebCall, error) {
	body := map[string]any{"agent_id": agentID}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}

	var call WebCall
	if err := c.doJSON(ctx, http.MethodPost, "/v2/create-web-call", body, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("retell: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("retell: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("retell http: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("retell %s %s: status %d: %s", method, path, res.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("retell: decode response: %w", err)
	}
	return nil
}
