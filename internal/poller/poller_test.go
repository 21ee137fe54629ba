package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/progress"
	"github.com/pvcarvalho/avaria-api/internal/server"
)

type recordingRenderer struct {
	mu       sync.Mutex
	lines    []string
	cleared  int
	states   []State
	percents []int
}

func (r *recordingRenderer) RenderProgress(snap progress.Snapshot, _, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, snap.Percent)
}

func (r *recordingRenderer) AppendLogs(lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lines...)
}

func (r *recordingRenderer) ClearLogs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	r.lines = nil
}

func (r *recordingRenderer) Notify(state State, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

// scriptedServer serves a fixed sequence of snapshots, repeating the last
// one once the script runs out.
func scriptedServer(t *testing.T, snaps []progress.Snapshot) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	i := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		snap := snaps[i]
		if i < len(snaps)-1 {
			i++
		}
		mu.Unlock()
		writeSnapshot(w, snap)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeSnapshot(w http.ResponseWriter, snap progress.Snapshot) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(server.APIResponse[progress.Snapshot]{Message: "ok", Data: snap})
}

func TestRunToCompletion(t *testing.T) {
	ts := scriptedServer(t, []progress.Snapshot{
		{Code: progress.CodeRunning, Percent: 25, Status: "Analyzing", Logs: []string{"a.jpg: damage"}},
		{Code: progress.CodeRunning, Percent: 50, Logs: []string{"a.jpg: damage", "b.jpg: damage"}},
		{Code: progress.CodeCompleted, Percent: 100, Status: "Completed", Logs: []string{"a.jpg: damage", "b.jpg: damage"}},
	})

	r := &recordingRenderer{}
	c := New(ts.URL, r, WithInterval(5*time.Millisecond), WithTimeout(time.Second))

	state, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if state != StateCompleted {
		t.Fatalf("final state = %s, want completed", state)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// No duplicates: each log line is appended exactly once.
	if len(r.lines) != 2 {
		t.Errorf("rendered %d log lines, want 2 (no duplicates across polls): %v", len(r.lines), r.lines)
	}
	if last := r.states[len(r.states)-1]; last != StateCompleted {
		t.Errorf("last notification = %s, want completed", last)
	}
	for i := 1; i < len(r.percents); i++ {
		if r.percents[i] < r.percents[i-1] {
			t.Errorf("percent went backwards: %v", r.percents)
		}
	}
}

func TestRunErroredJob(t *testing.T) {
	ts := scriptedServer(t, []progress.Snapshot{
		{Code: progress.CodeRunning, Percent: 40},
		{Code: progress.CodeError, Percent: 40, Status: "Job failed: invalid api key"},
	})

	r := &recordingRenderer{}
	c := New(ts.URL, r, WithInterval(5*time.Millisecond))

	state, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if state != StateErrored {
		t.Errorf("final state = %s, want errored", state)
	}
}

func TestConnectionLostAfterRetries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(ts.Close)

	r := &recordingRenderer{}
	c := New(ts.URL, r, WithInterval(5*time.Millisecond), WithMaxRetries(2))

	state, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if state != StateConnectionLost {
		t.Errorf("final state = %s, want connection lost", state)
	}
}

func TestTransientFailureRecovers(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeSnapshot(w, progress.Snapshot{Code: progress.CodeCompleted, Percent: 100, Status: "done"})
	}))
	t.Cleanup(ts.Close)

	// First poll already completes; script a slower path via a running
	// snapshot first.
	r := &recordingRenderer{}
	c := New(ts.URL, r, WithInterval(5*time.Millisecond), WithMaxRetries(2))

	state, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if state != StateCompleted {
		t.Errorf("final state = %s, want completed", state)
	}
}

func TestRunCancelled(t *testing.T) {
	ts := scriptedServer(t, []progress.Snapshot{
		{Code: progress.CodeRunning, Percent: 10},
	})

	ctx, cancel := context.WithCancel(context.Background())
	r := &recordingRenderer{}
	c := New(ts.URL, r, WithInterval(time.Hour))

	done := make(chan struct{})
	var state State
	var runErr error
	go func() {
		state, runErr = c.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
	if runErr == nil {
		t.Error("Run() error = nil, want context error")
	}
	if state.Terminal() {
		t.Errorf("state = %s, cancellation is not a job outcome", state)
	}
}

func TestPanelLimitClears(t *testing.T) {
	logs := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		logs = append(logs, "line")
	}
	ts := scriptedServer(t, []progress.Snapshot{
		{Code: progress.CodeCompleted, Percent: 100, Logs: logs},
	})

	r := &recordingRenderer{}
	c := New(ts.URL, r, WithInterval(5*time.Millisecond), WithPanelLimit(10))

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleared == 0 {
		t.Error("panel was never cleared despite exceeding the limit")
	}
	if len(r.lines) != 10 {
		t.Errorf("panel holds %d lines after clear, want 10", len(r.lines))
	}
}
