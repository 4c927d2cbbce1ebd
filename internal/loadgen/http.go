// Package loadgen implements the load-client analogue of internal/probes: a
// small set of concrete job classes exercising worker.Workload, enough to
// drive the plugin interface end to end without pretending to be a general
// load-testing toolkit (spec.md Non-goal (a) "specific workload/probe
// implementations beyond what's needed to exercise the plugin interfaces").
// Grounded on the teacher's agent/internal/restic.Wrapper in shape only —
// one constructor per class, parameters read once at construction, a single
// blocking operation repeated by the caller's loop — adapted here from
// "shell out to a restic subprocess" to "issue one HTTP request".
package loadgen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// httpWorkload repeats a single HTTP request until its worker task's
// context is cancelled, folding each round-trip's latency in milliseconds
// into the tracker (spec.md §4.5.1 "the core never interprets Parameters;
// it only round-trips them from Job-Request to the Workload").
type httpWorkload struct {
	client *http.Client
}

// NewHTTPWorkload builds the "http" job class's Workload. Recognized
// parameters: "url" (required), "method" (default GET).
func NewHTTPWorkload() httpWorkload {
	return httpWorkload{client: &http.Client{Timeout: 10 * time.Second}}
}

func paramValue(params []protocol.Parameter, key string) (string, bool) {
	for _, p := range params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Run implements worker.Workload (duck-typed to avoid an import cycle, the
// same way internal/probes.Workload does).
func (w httpWorkload) Run(ctx context.Context, params []protocol.Parameter, tracker *stats.Tracker) error {
	url, ok := paramValue(params, "url")
	if !ok || url == "" {
		return fmt.Errorf("loadgen: http job class requires a %q parameter", "url")
	}
	method, ok := paramValue(params, "method")
	if !ok || method == "" {
		method = http.MethodGet
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return fmt.Errorf("loadgen: build request: %w", err)
		}
		resp, err := w.client.Do(req)
		now := time.Now()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			tracker.AddValue(now, float64(now.Sub(start).Milliseconds()))
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		tracker.AddValue(now, float64(now.Sub(start).Milliseconds()))
	}
}
