// Command avaria-watch follows a running analysis job from the terminal,
// polling the status endpoint until the job finishes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/poller"
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8080", "base URL of the avaria-api server")
		interval   = flag.Duration("interval", 2*time.Second, "poll interval")
		timeout    = flag.Duration("timeout", 10*time.Second, "per-request timeout")
		maxRetries = flag.Int("max-retries", 2, "consecutive poll failures tolerated before giving up")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statusURL := strings.TrimRight(*baseURL, "/") + "/api/v1/status"
	client := poller.New(statusURL, poller.NewTextRenderer(os.Stdout),
		poller.WithInterval(*interval),
		poller.WithTimeout(*timeout),
		poller.WithMaxRetries(*maxRetries),
	)

	state, err := client.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch interrupted: %v\n", err)
		os.Exit(1)
	}
	if state != poller.StateCompleted {
		os.Exit(1)
	}
}
