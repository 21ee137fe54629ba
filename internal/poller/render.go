package poller

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/progress"
)

// TextRenderer writes progress to a terminal-ish writer, one line per
// update. It implements Renderer for the watch command.
type TextRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTextRenderer(out io.Writer) *TextRenderer {
	return &TextRenderer{out: out}
}

func (r *TextRenderer) RenderProgress(snap progress.Snapshot, elapsed, remaining time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bar := progressBar(snap.Percent, 30)
	eta := "--"
	switch {
	case snap.Percent >= 100:
		eta = "done"
	case remaining > 0:
		eta = remaining.Round(time.Second).String()
	}
	fmt.Fprintf(r.out, "\r%s %3d%%  %d/%d  elapsed %s  eta %s  %s",
		bar, snap.Percent, snap.ProcessedItems, snap.TotalItems,
		elapsed.Round(time.Second), eta, snap.Status)
}

func (r *TextRenderer) AppendLogs(lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range lines {
		fmt.Fprintf(r.out, "\n  %s", line)
	}
}

func (r *TextRenderer) ClearLogs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out)
}

func (r *TextRenderer) Notify(state State, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "\n[%s] %s\n", state, message)
}

func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
