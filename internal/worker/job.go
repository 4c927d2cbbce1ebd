package worker

import (
	"context"
	"sync"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// RecordState is the worker-local job lifecycle (spec.md §4.5.1), distinct
// from protocol.JobState (the wire-level state reported in Job-Completed
// and Status-Response) — RecordState tracks what this worker is doing right
// now, JobState is the terminal classification sent to the coordinator.
type RecordState int

const (
	RecordPending RecordState = iota
	RecordRunning
	RecordStopping
	RecordCompleted
)

func (s RecordState) String() string {
	switch s {
	case RecordPending:
		return "PENDING"
	case RecordRunning:
		return "RUNNING"
	case RecordStopping:
		return "STOPPING"
	case RecordCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN_RECORD_STATE"
	}
}

// StopReason records why a job's tasks were signalled to stop, so the
// completion builder can pick the right terminal protocol.JobState.
type StopReason int

const (
	stopNotRequested StopReason = iota
	stopByDuration
	stopByUser
	stopDueToError
	stopDueToShutdown
)

// Record is one job's worker-local state: its request parameters, the
// cooperative stop machinery, the worker tasks' trackers, and any
// operational log lines accumulated along the way (spec.md §3 Entity
// lifecycles "Job record on worker").
type Record struct {
	mu sync.Mutex

	Request protocol.JobRequest
	State   RecordState

	ActualStartMillis int64
	ActualStopMillis  int64

	stopCh     chan struct{}
	stopOnce   sync.Once
	stopReason StopReason

	tasksWG sync.WaitGroup
	cancel  context.CancelFunc

	trackers []*stats.Tracker
	logs     []string
}

func newRecord(req protocol.JobRequest) *Record {
	return &Record{
		Request: req,
		State:   RecordPending,
		stopCh:  make(chan struct{}),
	}
}

// ShouldStop is the cooperative check every worker task polls at bounded
// intervals (spec.md §9 "model as a cooperative stop signal ... that all
// tasks check at bounded intervals").
func (r *Record) ShouldStop() <-chan struct{} {
	return r.stopCh
}

// signalStop closes stopCh exactly once, recording why.
func (r *Record) signalStop(reason StopReason) {
	r.mu.Lock()
	if r.State == RecordPending || r.State == RecordRunning {
		r.State = RecordStopping
	}
	if r.stopReason == stopNotRequested {
		r.stopReason = reason
	}
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// AddLog appends one operational-error log line, surfaced verbatim in
// Job-Completed.LogMessages (spec.md §7 kind 3).
func (r *Record) AddLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, line)
}

// Logs returns a snapshot of the accumulated log lines.
func (r *Record) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}

func (r *Record) addTracker(t *stats.Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers = append(r.trackers, t)
}

// mergedTrackers merges the per-task trackers by display name
// (spec.md §4.5.1 "On completion: gather per-thread trackers, merge
// compatible trackers by display name").
func (r *Record) mergedTrackers() []*stats.Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName := make(map[string]*stats.Tracker)
	var order []string
	for _, t := range r.trackers {
		if existing, ok := byName[t.DisplayName]; ok {
			_ = existing.Aggregate(t)
			continue
		}
		byName[t.DisplayName] = t
		order = append(order, t.DisplayName)
	}
	out := make([]*stats.Tracker, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// terminalState maps the stop reason (plus whether any task reported an
// operational error via AddLog) to the protocol.JobState carried in
// Job-Completed.
func (r *Record) terminalState() protocol.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()

	hasErrors := len(r.logs) > 0
	switch r.stopReason {
	case stopByUser:
		return protocol.StoppedByUser
	case stopDueToShutdown:
		return protocol.StoppedDueToShutdown
	case stopDueToError:
		return protocol.StoppedDueToError
	default: // stopByDuration or never explicitly signalled (ran to completion)
		if hasErrors {
			return protocol.CompletedWithErrors
		}
		return protocol.CompletedSuccessfully
	}
}

// completion builds the Job-Completed message for this record, converting
// timestamps to the peer's clock frame via correctOutbound (spec.md §4.5.1
// "On completion: ... wrap in Job-Completed (adjusting timestamps by
// skew)").
func (r *Record) completion(correctOutbound func(int64) int64) protocol.JobCompleted {
	r.mu.Lock()
	start, stop := r.ActualStartMillis, r.ActualStopMillis
	r.mu.Unlock()

	durSec := int((stop - start) / 1000)
	return protocol.JobCompleted{
		JobID:             r.Request.JobID,
		JobState:          r.terminalState(),
		ActualStartMillis: correctOutbound(start),
		ActualStopMillis:  correctOutbound(stop),
		ActualDurationSec: durSec,
		StatTrackers:      r.mergedTrackers(),
		LogMessages:       r.Logs(),
	}
}

func nowMillis() int64 { return clockNow().UnixMilli() }
