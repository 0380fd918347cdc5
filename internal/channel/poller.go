package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidConfig = errors.New("channel: invalid config")
	ErrTransport     = errors.New("channel: transport error")
)

const (
	defaultRetryDelay       = 5 * time.Second
	defaultIdleDelay        = 100 * time.Millisecond
	defaultMaxResponseBytes = 4 << 20
	// Slack added to the server-side long-poll window before the client gives up.
	longPollGrace = 10 * time.Second
)

// TransportError reports a failed fetch against the channel source.
//
// StatusCode is the HTTP status when a response was received, or 0 when the request never
// completed. Description carries the source's own error text for ok=false bodies.
type TransportError struct {
	StatusCode  int
	Description string
	Err         error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(ErrTransport.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Handler consumes one non-empty batch. The poller waits for it to return before fetching again.
type Handler func(ctx context.Context, batch Batch) error

type Config struct {
	// BaseURL is the bot API root, e.g. https://api.telegram.org/bot<token>.
	BaseURL string

	HTTPClient       *http.Client
	MaxResponseBytes int64

	// RetryDelay is the pause after a failed fetch. Defaults to 5s.
	RetryDelay time.Duration
	// IdleDelay is the pause after every successful fetch. Defaults to 100ms.
	IdleDelay time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
	Log   *slog.Logger
}

// Poller fetches channel updates and owns the monotonic cursor.
type Poller struct {
	cfg       Config
	updateURL *url.URL

	mu     sync.Mutex
	cursor int64
}

func New(cfg Config) (*Poller, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: missing base url", ErrInvalidConfig)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}
	if cfg.RetryDelay < 0 || cfg.IdleDelay < 0 || cfg.MaxResponseBytes < 0 {
		return nil, fmt.Errorf("%w: delays and limits must be >= 0", ErrInvalidConfig)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.MaxResponseBytes == 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.IdleDelay == 0 {
		cfg.IdleDelay = defaultIdleDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	updates := *u
	updates.Path = joinPath(u.Path, "getUpdates")

	return &Poller{cfg: cfg, updateURL: &updates}, nil
}

// UpdatesURL is the getUpdates endpoint without query parameters.
func (p *Poller) UpdatesURL() string {
	return p.updateURL.String()
}

// Cursor returns the highest update id observed so far.
func (p *Poller) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// FetchOnce performs a single non-blocking fetch without an offset. It never moves the cursor.
func (p *Poller) FetchOnce(ctx context.Context) (Batch, error) {
	batch, err := p.get(ctx, *p.updateURL)
	if err != nil {
		return Batch{}, err
	}
	if batch.Empty() {
		p.cfg.Log.Info("no pending updates")
	} else {
		p.cfg.Log.Info("pending updates", "count", len(batch.Result), "firstText", batch.Result[0].Text())
	}
	return batch, nil
}

// FetchLongPoll blocks server-side for up to timeoutSeconds waiting for updates past the cursor.
func (p *Poller) FetchLongPoll(ctx context.Context, timeoutSeconds int) (Batch, error) {
	if timeoutSeconds < 0 {
		return Batch{}, fmt.Errorf("%w: negative long-poll timeout", ErrInvalidConfig)
	}

	u := *p.updateURL
	q := u.Query()
	q.Set("timeout", strconv.Itoa(timeoutSeconds))
	q.Set("offset", strconv.FormatInt(p.Cursor()+1, 10))
	u.RawQuery = q.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second+longPollGrace)
	defer cancel()

	batch, err := p.get(reqCtx, u)
	if err != nil {
		return Batch{}, err
	}
	if batch.Empty() {
		p.cfg.Log.Debug("long poll returned no updates")
		return batch, nil
	}

	p.advance(batch.MaxUpdateID())
	for i, upd := range batch.Result {
		if text := upd.Text(); text != "" {
			p.cfg.Log.Info("update received", "index", i, "updateID", upd.UpdateID, "text", text)
		}
	}
	return batch, nil
}

// Run drives the long-poll loop until ctx is cancelled.
//
// A failed fetch is retried after RetryDelay forever. Handler errors are logged and never stop
// the loop.
func (p *Poller) Run(ctx context.Context, handler Handler, timeoutSeconds int) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidConfig)
	}
	p.cfg.Log.Info("long polling started", "timeoutSeconds", timeoutSeconds, "cursor", p.Cursor())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := p.FetchLongPoll(ctx, timeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.cfg.Log.Error("long poll failed", "err", err, "retryIn", p.cfg.RetryDelay.String())
			if err := p.cfg.Sleep(ctx, p.cfg.RetryDelay); err != nil {
				return err
			}
			continue
		}

		if !batch.Empty() {
			p.cfg.Log.Info("new updates detected", "count", len(batch.Result), "cursor", p.Cursor())
			if err := handler(ctx, batch); err != nil {
				p.cfg.Log.Error("batch handler failed", "err", err)
			}
		}

		if err := p.cfg.Sleep(ctx, p.cfg.IdleDelay); err != nil {
			return err
		}
	}
}

func (p *Poller) advance(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id > p.cursor {
		p.cursor = id
	}
}

func (p *Poller) get(ctx context.Context, u url.URL) (Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Batch{}, &TransportError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return Batch{}, &TransportError{Err: redactURLError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxResponseBytes+1))
	if err != nil {
		return Batch{}, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(body)) > p.cfg.MaxResponseBytes {
		return Batch{}, &TransportError{StatusCode: resp.StatusCode, Err: errors.New("response too large")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Batch{}, &TransportError{StatusCode: resp.StatusCode, Description: describeBody(body, resp.Status)}
	}

	var batch Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		return Batch{}, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !batch.OK {
		desc := batch.Description
		if desc == "" {
			desc = "ok=false"
		}
		return Batch{}, &TransportError{StatusCode: resp.StatusCode, Description: desc}
	}
	return batch, nil
}

func describeBody(body []byte, fallback string) string {
	var er struct {
		Description string `json:"description"`
	}
	if json.Unmarshal(body, &er) == nil && er.Description != "" {
		return er.Description
	}
	if msg := strings.TrimSpace(string(body)); msg != "" && len(msg) <= 256 {
		return msg
	}
	return fallback
}

// redactURLError drops the request URL, which embeds the bot token.
func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

func joinPath(basePath string, suffix string) string {
	if basePath == "" {
		basePath = "/"
	}
	return path.Join(basePath, suffix)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
