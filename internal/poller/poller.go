// Package poller watches a running job over the status endpoint and drives
// a display. It is the client half of the progress contract: the server owns
// the progress record, the poller only ever reads snapshots.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/progress"
)

// State is the poller lifecycle. Transitions only move forward:
// Idle -> Connecting -> Polling -> one of the terminal states.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StatePolling
	StateCompleted
	StateErrored
	StateConnectionLost
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateConnectionLost:
		return "connection lost"
	}
	return "unknown"
}

// Terminal reports whether the poller has stopped for good.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateConnectionLost
}

// Renderer receives display updates. Implementations draw a progress bar,
// append log lines and surface the final outcome.
type Renderer interface {
	RenderProgress(snap progress.Snapshot, elapsed, remaining time.Duration)
	AppendLogs(lines []string)
	ClearLogs()
	Notify(state State, message string)
}

type Option func(*Client)

func WithInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries sets how many consecutive failed polls are tolerated
// before the connection is declared lost.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPanelLimit bounds the number of log lines kept on screen. Once the
// bound is hit the panel is cleared and refilled with the newest lines.
func WithPanelLimit(n int) Option {
	return func(c *Client) { c.panelLimit = n }
}

type Client struct {
	url        string
	renderer   Renderer
	http       *http.Client
	interval   time.Duration
	timeout    time.Duration
	maxRetries int
	panelLimit int
}

func New(statusURL string, renderer Renderer, opts ...Option) *Client {
	c := &Client{
		url:        statusURL,
		renderer:   renderer,
		http:       http.DefaultClient,
		interval:   2 * time.Second,
		timeout:    10 * time.Second,
		maxRetries: 2,
		panelLimit: 200,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until the job reaches a terminal snapshot, the connection is
// lost, or ctx is cancelled. It always polls once immediately so a job that
// finishes within the first interval is still observed. The final state is
// returned and also delivered via Notify.
func (c *Client) Run(ctx context.Context) (State, error) {
	started := time.Now()
	state := StateConnecting
	c.renderer.Notify(state, "Connecting")

	failures := 0
	shownLines := 0
	panelLines := 0

	poll := func() (State, bool) {
		snap, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return state, true
			}
			failures++
			if failures > c.maxRetries {
				c.renderer.Notify(StateConnectionLost, fmt.Sprintf("Connection lost: %v", err))
				return StateConnectionLost, true
			}
			return state, false
		}
		failures = 0

		if state == StateConnecting {
			state = StatePolling
			c.renderer.Notify(state, "Polling")
		}

		// Logs are append-only within one run; only the unseen tail is new.
		// A shorter list means the server reset for a new run.
		if len(snap.Logs) < shownLines {
			c.renderer.ClearLogs()
			shownLines, panelLines = 0, 0
		}
		if fresh := snap.Logs[shownLines:]; len(fresh) > 0 {
			c.renderer.AppendLogs(fresh)
			shownLines = len(snap.Logs)
			panelLines += len(fresh)

			if panelLines > c.panelLimit {
				c.renderer.ClearLogs()
				tail := snap.Logs
				if len(tail) > c.panelLimit {
					tail = tail[len(tail)-c.panelLimit:]
				}
				c.renderer.AppendLogs(tail)
				panelLines = len(tail)
			}
		}

		elapsed := time.Since(started)
		c.renderer.RenderProgress(*snap, elapsed, estimateRemaining(elapsed, snap.Percent))

		if snap.Terminal() {
			if snap.Code == progress.CodeError {
				c.renderer.Notify(StateErrored, snap.Status)
				return StateErrored, true
			}
			c.renderer.Notify(StateCompleted, snap.Status)
			return StateCompleted, true
		}
		return state, false
	}

	if final, done := poll(); done {
		return final, ctx.Err()
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
			if final, done := poll(); done {
				return final, ctx.Err()
			}
		}
	}
}

func (c *Client) fetch(ctx context.Context) (*progress.Snapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", res.StatusCode)
	}

	var envelope struct {
		Data progress.Snapshot `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &envelope.Data, nil
}

// estimateRemaining projects time left from progress so far. Zero percent
// gives no estimate.
func estimateRemaining(elapsed time.Duration, percent int) time.Duration {
	if percent <= 0 || percent >= 100 {
		return 0
	}
	return elapsed * time.Duration(100-percent) / time.Duration(percent)
}
