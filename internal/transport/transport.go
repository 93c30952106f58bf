// Package transport issues chat requests against the backend and normalizes
// HTTP failures into typed errors. Both the plain and the streaming mode
// resolve to the same result shape: the final assistant text or an error
// that always carries a status code (0 when no response was received).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/comigor/sally-go/internal/logger"
	"github.com/comigor/sally-go/internal/profile"
	"github.com/comigor/sally-go/internal/stream"
)

// SendRequest is one outbound chat request.
type SendRequest struct {
	Message        string
	Role           string
	NamePreference profile.NamePreference
	// Streaming overrides the client default when non-nil.
	Streaming *bool
}

// TransportError is an HTTP-level failure before or instead of a usable body.
// Status 0 means no response was received at all.
type TransportError struct {
	Status int
	Detail string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error %d: %s", e.Status, e.Detail)
}

// Options configures a Client. Nothing is read from the environment.
type Options struct {
	BaseURL   string
	Streaming bool
	// RequestTimeout bounds plain (non-streaming) chat requests. Streaming
	// requests are bounded by the caller's context instead, since a stream
	// legitimately outlives any fixed deadline.
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client talks to the chat backend.
type Client struct {
	opts Options
	http *http.Client
}

// NewClient creates a backend client from injected options.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 4 * time.Second
	}
	return &Client{opts: opts, http: hc}
}

// StreamingEnabled reports the configured default mode.
func (c *Client) StreamingEnabled() bool {
	return c.opts.Streaming
}

type chatBody struct {
	Message            string                 `json:"message"`
	Role               string                 `json:"role"`
	UserNamePreference profile.NamePreference `json:"userNamePreference"`
}

type chatReply struct {
	Reply string `json:"reply"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Send performs one chat turn and returns the final assistant text. In
// streaming mode onDelta receives every incremental token before Send
// returns; in plain mode onDelta is never called. Every failure is either a
// *TransportError, a *stream.StreamError, or a context error.
func (c *Client) Send(ctx context.Context, req SendRequest, onDelta stream.DeltaFunc) (string, error) {
	if c.opts.BaseURL == "" {
		return "", &TransportError{Status: 0, Detail: "backend base URL is not configured"}
	}

	streaming := c.opts.Streaming
	if req.Streaming != nil {
		streaming = *req.Streaming
	}

	payload, err := json.Marshal(chatBody{
		Message:            req.Message,
		Role:               req.Role,
		UserNamePreference: req.NamePreference,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	path := "/chat"
	if streaming {
		path = "/chat/stream"
	}
	if !streaming && c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}
	logger.L.Debug("chat request", "path", path, "role", req.Role, "streaming", streaming)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", &TransportError{Status: 0, Detail: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Status: 0, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &TransportError{Status: resp.StatusCode, Detail: errorDetail(resp)}
	}

	if !streaming {
		var reply chatReply
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			return "", &TransportError{Status: resp.StatusCode, Detail: "malformed response body"}
		}
		return reply.Reply, nil
	}

	return stream.NewDecoder().Run(ctx, resp.Body, onDelta)
}

// Health probes GET {base}/health with the configured client-side timeout.
// A nil return means the backend is reachable and healthy.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/health", nil)
	if err != nil {
		return &TransportError{Status: 0, Detail: err.Error()}
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransportError{Status: 0, Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Status: resp.StatusCode, Detail: resp.Status}
	}
	return nil
}

// errorDetail extracts a structured {detail} error body when present, else
// falls back to the HTTP status text.
func errorDetail(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil && len(raw) > 0 {
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Detail != "" {
			return eb.Detail
		}
	}
	if resp.Status != "" {
		return resp.Status
	}
	return "Request failed"
}
