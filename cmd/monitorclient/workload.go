package main

import (
	"context"

	"github.com/loadfabric/loadfabric/internal/probes"
	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// configuredProbeWorkload merges this monitor client's local probe_config_dir
// parameters with whatever a Job-Request supplies before delegating to the
// underlying probes.Workload, implementing worker.Workload the same way
// probes.Workload itself does (duck-typed Run method, no import of
// internal/worker needed here either).
type configuredProbeWorkload struct {
	base   probes.Workload
	static []protocol.Parameter
}

func (w configuredProbeWorkload) Run(ctx context.Context, params []protocol.Parameter, tracker *stats.Tracker) error {
	return w.base.Run(ctx, mergeParameters(w.static, params), tracker)
}

// mergeParameters layers runtime-supplied params under file-configured
// static ones; a key present in static is never overridden by the job.
func mergeParameters(static, runtime []protocol.Parameter) []protocol.Parameter {
	if len(static) == 0 {
		return runtime
	}
	seen := make(map[string]bool, len(static))
	merged := make([]protocol.Parameter, 0, len(static)+len(runtime))
	merged = append(merged, static...)
	for _, p := range static {
		seen[p.Key] = true
	}
	for _, p := range runtime {
		if seen[p.Key] {
			continue
		}
		merged = append(merged, p)
	}
	return merged
}
