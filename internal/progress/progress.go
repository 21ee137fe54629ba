// Package progress holds the shared job progress record: one writer (the
// running job) advances it, any number of status requests read snapshots.
package progress

import (
	"fmt"
	"sync"
)

// Code is the machine-readable job phase. Terminal detection uses this enum,
// never substrings of the human-readable status message.
type Code string

const (
	CodeIdle      Code = "idle"
	CodeRunning   Code = "running"
	CodeCompleted Code = "completed"
	CodeError     Code = "error"
)

// Snapshot is a copy of the progress record at one point in time.
type Snapshot struct {
	Percent        int      `json:"percent"`
	Code           Code     `json:"code"`
	Status         string   `json:"status"`
	Logs           []string `json:"logs"`
	TotalItems     int      `json:"totalItems"`
	ProcessedItems int      `json:"processedItems"`
}

// Terminal reports whether the job has finished, successfully or not.
func (s Snapshot) Terminal() bool {
	return s.Code == CodeCompleted || s.Code == CodeError || s.Percent >= 100
}

// Tracker serializes all mutations of the shared progress record. Percent is
// monotonically non-decreasing and logs are append-only until Reset.
type Tracker struct {
	mu  sync.Mutex
	cur Snapshot
}

func NewTracker() *Tracker {
	return &Tracker{cur: Snapshot{Code: CodeIdle, Status: "Waiting"}}
}

// Reset starts a new job run: counters back to zero, logs cleared.
func (t *Tracker) Reset(totalItems int, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = Snapshot{
		Code:       CodeRunning,
		Status:     status,
		TotalItems: totalItems,
		Logs:       nil,
	}
}

// SetStatus updates the display message without touching counters.
func (t *Tracker) SetStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Status = status
}

// SetPercent raises the progress bar for setup phases before item counting
// starts. Lower values than the current percent are ignored.
func (t *Tracker) SetPercent(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p > t.cur.Percent {
		t.cur.Percent = min(p, 100)
	}
}

// Log appends one line to the job log.
func (t *Tracker) Log(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Logs = append(t.cur.Logs, fmt.Sprintf(format, args...))
}

// ItemDone records one resolved work item (success or exhausted failure),
// recomputes percent and appends the outcome line. All under one lock so
// concurrent workers cannot lose updates.
func (t *Tracker) ItemDone(logLine string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.ProcessedItems++
	if t.cur.TotalItems > 0 {
		p := t.cur.ProcessedItems * 100 / t.cur.TotalItems
		if p > t.cur.Percent {
			t.cur.Percent = min(p, 100)
		}
	}
	t.cur.Logs = append(t.cur.Logs, logLine)
}

// Complete marks the run finished: percent 100 exactly once per job.
func (t *Tracker) Complete(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Percent = 100
	t.cur.Code = CodeCompleted
	t.cur.Status = status
}

// Fail marks the run errored. Percent and already-recorded items stay so the
// partial state remains visible.
func (t *Tracker) Fail(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Code = CodeError
	t.cur.Status = status
}

// Snapshot returns a deep copy; callers can hold it without racing writers.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.cur
	snap.Logs = make([]string, len(t.cur.Logs))
	copy(snap.Logs, t.cur.Logs)
	return snap
}
