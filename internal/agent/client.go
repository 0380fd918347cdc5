package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidConfig = errors.New("agent: invalid config")
	ErrNotify        = errors.New("agent: notify failed")
)

// Message is the body POSTed to the chat endpoint.
type Message struct {
	UserInput string `json:"userInput"`
	SessionID string `json:"sessionId"`
}

type ClientOption func(*Client) error

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidConfig)
		}
		c.hc = hc
		return nil
	}
}

func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidConfig)
		}
		c.maxRespBytes = n
		return nil
	}
}

// Client forwards channel text to the chat agent. The agent's reply is returned raw; callers only
// log it.
type Client struct {
	endpoint     *url.URL
	sessionID    string
	hc           *http.Client
	maxRespBytes int64
}

func NewClient(endpoint string, sessionID string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%w: missing endpoint", ErrInvalidConfig)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: parse endpoint: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidConfig)
	}

	c := &Client{
		endpoint:     u,
		sessionID:    strings.TrimSpace(sessionID),
		hc:           &http.Client{Timeout: 2 * time.Minute},
		maxRespBytes: 1 << 20,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) SessionID() string {
	return c.sessionID
}

// Notify posts userInput to the agent and returns the response body.
func (c *Client) Notify(ctx context.Context, userInput string) ([]byte, error) {
	if c == nil || c.endpoint == nil || c.hc == nil {
		return nil, fmt.Errorf("%w: nil client", ErrInvalidConfig)
	}

	b, err := json.Marshal(Message{UserInput: userInput, SessionID: c.sessionID})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", ErrNotify, err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrNotify, err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(r)
	if err != nil {
		return nil, fmt.Errorf("%w: http do: %w", ErrNotify, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxRespBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrNotify, err)
	}
	if int64(len(body)) > c.maxRespBytes {
		body = body[:c.maxRespBytes]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrNotify, resp.StatusCode, msg)
	}
	return body, nil
}
