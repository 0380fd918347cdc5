package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_Notify_PostsUserInputAndSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s want POST", r.Method)
		}
		if r.URL.Path != "/api/chat" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type: got %q", ct)
		}
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		if msg.UserInput != "BTC up" || msg.SessionID != "vlayer-bot-usdc-swapper" {
			t.Errorf("message: %+v", msg)
		}
		_, _ = w.Write([]byte(`{"reply":"swapping"}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api/chat", "vlayer-bot-usdc-swapper", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.SessionID() != "vlayer-bot-usdc-swapper" {
		t.Fatalf("session id: got %q", c.SessionID())
	}
	body, err := c.Notify(context.Background(), "BTC up")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if string(body) != `{"reply":"swapping"}` {
		t.Fatalf("body: got %s", body)
	}
}

func TestClient_Notify_Non2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("agent offline"))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "s", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Notify(context.Background(), "x")
	if !errors.Is(err, ErrNotify) {
		t.Fatalf("expected ErrNotify, got %v", err)
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "agent offline") {
		t.Fatalf("error should carry status and body: %v", err)
	}
}

func TestNewClient_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("", "s"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("empty endpoint: %v", err)
	}
	if _, err := NewClient("http://localhost:3000/api/chat", " "); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("empty session: %v", err)
	}
	if _, err := NewClient("http://localhost:3000", "s", WithHTTPClient(nil)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil http client: %v", err)
	}
}
