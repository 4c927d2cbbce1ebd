// Package worker implements the job-record lifecycle a load or monitor
// worker runs on each connection: Job-Request validation and scheduling,
// Job-Control-driven start/stop, per-thread task fan-out, and completion
// reporting (spec.md §4.5). Grounded on the teacher's
// agent/internal/executor/executor.go queue-and-execute shape, generalized
// from "one backup at a time" to N-concurrent worker tasks per job and
// multiple concurrent jobs per connection.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// Workload is a leaf collaborator plugged into the runtime by job class name
// (spec.md §1 "Everything else ... is a leaf collaborator: it plugs into
// the core via well-defined interfaces", §4.5.2 the probe interface is the
// monitor-worker analogue). The core never interprets Parameters; it only
// round-trips them from Job-Request to the Workload (spec.md §1 Non-goal
// (a)).
type Workload interface {
	// Run executes one worker task ("thread") until ctx is cancelled
	// (cooperative stop or forceful escalation) or it returns on its own.
	// tracker is pre-created for this task at the job's
	// collectionIntervalSec and already Start()-ed; tracker.Stop() is
	// called by the caller, not the Workload.
	Run(ctx context.Context, params []protocol.Parameter, tracker *stats.Tracker) error
}

// WorkloadFactory builds a fresh Workload instance for one worker task.
// Factories are registered per job class so each thread gets its own
// instance (spec.md §4.5.1 "threadsPerClient worker tasks").
type WorkloadFactory func() Workload

// Registry maps job-class names to factories. Unknown classes are refused
// with UnsupportedJobClass at Job-Request time (spec.md §4.5.1).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]WorkloadFactory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]WorkloadFactory)}
}

// Register adds a job class. Re-registering a class replaces its factory,
// supporting hot class-transfer updates (spec.md §6 Class-Transfer).
func (r *Registry) Register(class string, f WorkloadFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[class] = f
}

// New builds a fresh Workload instance for class, or an error if the class
// is not registered.
func (r *Registry) New(class string) (Workload, error) {
	r.mu.RLock()
	f, ok := r.factories[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("worker: unsupported job class %q", class)
	}
	return f(), nil
}

// clockNow exists so tests can substitute a fake clock; production code
// always calls time.Now.
var clockNow = time.Now
