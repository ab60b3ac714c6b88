package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BridgeRequest is the event contract accepted by the automation bridge.
type BridgeRequest struct {
	Action     Category       `json:"action"`
	StreamerID string         `json:"streamer_id"`
	Metadata   map[string]any `json:"metadata"`
	EventData  map[string]any `json:"event_data"`
}

// BridgeResponse is the result payload returned by the bridge.
type BridgeResponse struct {
	StatusCode int            `json:"statusCode"`
	Result     map[string]any `json:"result,omitempty"`
}

// BridgeClient sends one action to the automation bridge.
type BridgeClient interface {
	Send(ctx context.Context, req BridgeRequest) (*BridgeResponse, error)
}

// HTTPBridge calls the automation bridge over HTTP with a bearer token.
type HTTPBridge struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPBridge returns a bridge client posting to {baseURL}/events.
func NewHTTPBridge(baseURL, token string, timeout time.Duration) *HTTPBridge {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBridge{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts req to the bridge. Any non-2xx status is an error.
func (c *HTTPBridge) Send(ctx context.Context, req BridgeRequest) (*BridgeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode bridge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read bridge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	out := &BridgeResponse{StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out.Result); err != nil {
			return nil, fmt.Errorf("decode bridge response: %w", err)
		}
	}
	return out, nil
}
