// Package probes implements the monitor-worker analogue of load threads
// (spec.md §4.5.2 "Identical to the load-client runtime except the
// 'threads' are replaced by named probes"). A Probe is the leaf collaborator
// plugged into the worker runtime by job class name. It has three operations:
// Name, Supported and Sample. It has no start or snapshot operation of its
// own: Workload.Run's ticker loop drives the sampling, and each reading goes
// straight into the task's tracker.
package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// Probe is one named resource-monitor leaf (CPU, memory, disk, network, ...)
// (spec.md §4.5.2). Supported reports whether this probe can run on the
// current host (e.g. a disk probe naming a mount point that doesn't exist
// here); Sample takes one reading and folds it into tracker.
type Probe interface {
	Name() string
	Supported() bool
	Sample(ctx context.Context, now time.Time, tracker *stats.Tracker) error
}

// Factory builds a fresh Probe instance from the job's Parameters, the way
// worker.WorkloadFactory builds a fresh Workload — one instance per worker
// task (spec.md §4.5.1 "threadsPerClient worker tasks", applied here to
// probes instead of load threads).
type Factory func(params []protocol.Parameter) (Probe, error)

// Registry maps monitor_class names to probe factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds a Registry pre-populated with the host probes this
// package implements.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("cpu", func([]protocol.Parameter) (Probe, error) { return &cpuProbe{}, nil })
	r.Register("memory", func([]protocol.Parameter) (Probe, error) { return &memoryProbe{}, nil })
	r.Register("disk", newDiskProbe)
	r.Register("network", func([]protocol.Parameter) (Probe, error) { return &networkProbe{}, nil })
	return r
}

// Register adds or replaces a probe class's factory (spec.md §6
// Class-Transfer: a freshly fetched probe implementation replaces the
// previous factory under the same class name).
func (r *Registry) Register(class string, f Factory) {
	r.factories[class] = f
}

// New builds a fresh Probe for class.
func (r *Registry) New(class string, params []protocol.Parameter) (Probe, error) {
	f, ok := r.factories[class]
	if !ok {
		return nil, fmt.Errorf("probes: unsupported monitor class %q", class)
	}
	return f(params)
}

// Workload adapts a monitor_class into a worker.Workload by building a fresh
// Probe from the registry at Run time — deferred, rather than at factory
// time, because the job's Parameters (e.g. a disk probe's mount point) are
// only known once Run is called with the Job-Request's actual parameters
// (spec.md §4.5.1 "The core never interprets Parameters; it only
// round-trips them from Job-Request to the Workload"). It then samples once
// per collectionIntervalSec tick until ctx is cancelled — the monitor-worker
// equivalent of a load thread's request loop (spec.md §4.5.2).
type Workload struct {
	Registry *Registry
	Class    string
}

// NewWorkload builds a Workload that resolves class against registry once
// Run is called with its job's real parameters.
func NewWorkload(registry *Registry, class string) Workload {
	return Workload{Registry: registry, Class: class}
}

// Run implements worker.Workload (duck-typed here to avoid an import cycle
// between internal/worker and internal/probes; internal/worker only needs
// the Run(ctx, params, tracker) error shape, not this package's types).
func (w Workload) Run(ctx context.Context, params []protocol.Parameter, tracker *stats.Tracker) error {
	probe, err := w.Registry.New(w.Class, params)
	if err != nil {
		return err
	}
	if !probe.Supported() {
		return fmt.Errorf("probes: %s not supported on this host", probe.Name())
	}
	interval := time.Duration(tracker.IntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := probe.Sample(ctx, now, tracker); err != nil {
				return fmt.Errorf("probes: %s sample: %w", probe.Name(), err)
			}
		}
	}
}
