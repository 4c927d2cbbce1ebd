package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// GraceWindow bounds how long a cooperative stop is given before the
// runtime escalates to forceful interruption by cancelling the task
// context (spec.md §4.5.1 "A stop signal that persists more than a grace
// window (default 5 s) escalates to forceful interruption").
const GraceWindow = 5 * time.Second

// Clock abstracts wall-clock reads and skew-corrected scheduling so the
// runtime's start-barrier and stop-watcher math is independently testable.
type Clock interface {
	Now() time.Time
	CorrectInbound(peerMillis int64) int64
	CorrectOutbound(localMillis int64) int64
}

// Reporter receives completed-interval batches from every active tracker in
// real time (spec.md §4.3 Real-time adapter, §4.5.3).
type Reporter interface {
	Publish(samples []stats.IntervalSample)
}

// Runtime owns the jobID -> Record mapping for one worker connection's
// lifetime and drives each job through PENDING -> RUNNING -> STOPPING ->
// COMPLETED (spec.md §4.5.1). It is the load-client and monitor-client
// analogue of the teacher's agent/internal/executor.Executor, generalized
// from one sequential queue to N concurrently running jobs, each with its
// own concurrent worker tasks.
type Runtime struct {
	clock    Clock
	registry *Registry
	reporter Reporter
	log      *zap.Logger

	mu      sync.Mutex
	records map[string]*Record

	completed chan string
}

// NewRuntime builds a Runtime bound to one connection's clock-skew context.
func NewRuntime(clock Clock, registry *Registry, reporter Reporter, log *zap.Logger) *Runtime {
	return &Runtime{
		clock:     clock,
		registry:  registry,
		reporter:  reporter,
		log:       log.Named("worker"),
		records:   make(map[string]*Record),
		completed: make(chan string, 64),
	}
}

// Completed delivers a jobID every time one of this runtime's records
// finishes all its worker tasks, so the connection driver knows when to
// build and send Job-Completed (spec.md §4.5.1 "On completion"). The
// channel is buffered generously enough that a driver lagging briefly
// behind a burst of simultaneous job completions does not block finish().
func (rt *Runtime) Completed() <-chan string {
	return rt.completed
}

// HandleJobRequest validates req, creates its Record, and returns the
// Job-Response to send (spec.md §4.5.1 "On Job-Request"). It does not start
// any worker tasks — that happens on the matching Job-Control START.
func (rt *Runtime) HandleJobRequest(req protocol.JobRequest) protocol.JobResponse {
	if err := req.Validate(); err != nil {
		return protocol.JobResponse{JobID: req.JobID, ResponseCode: protocol.InvalidParameters, Message: err.Error()}
	}
	if _, err := rt.registry.New(req.JobClass); err != nil {
		return protocol.JobResponse{JobID: req.JobID, ResponseCode: protocol.UnsupportedJobClass, Message: err.Error()}
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.records[req.JobID]; exists {
		return protocol.JobResponse{JobID: req.JobID, ResponseCode: protocol.ClientBusy, Message: "jobID already has a record on this worker"}
	}
	rt.records[req.JobID] = newRecord(req)
	return protocol.JobResponse{JobID: req.JobID, ResponseCode: protocol.Success}
}

// HandleJobControl drives the START/STOP/STOP_AND_WAIT/STOP_DUE_TO_SHUTDOWN
// transitions (spec.md §4.5.1 "On Job-Control"). The caller — the session's
// receive loop — is expected to invoke this in a goroutine for
// STOP_AND_WAIT/STOP_DUE_TO_SHUTDOWN, since those block until every worker
// task has observed the stop signal.
func (rt *Runtime) HandleJobControl(ctx context.Context, req protocol.JobControlRequest) protocol.JobControlResponse {
	rt.mu.Lock()
	rec, ok := rt.records[req.JobID]
	rt.mu.Unlock()
	if !ok {
		return protocol.JobControlResponse{JobID: req.JobID, ResponseCode: protocol.NoSuchJob}
	}

	switch req.Op {
	case protocol.OpStart:
		rt.start(ctx, rec)
		return protocol.JobControlResponse{JobID: req.JobID, ResponseCode: protocol.Success}

	case protocol.OpStop:
		rec.signalStop(stopByUser)
		return protocol.JobControlResponse{JobID: req.JobID, ResponseCode: protocol.Success}

	case protocol.OpStopAndWait:
		rec.signalStop(stopByUser)
		rt.waitWithGrace(rec)
		return protocol.JobControlResponse{JobID: req.JobID, ResponseCode: protocol.Success}

	case protocol.OpStopDueToShutdown:
		rec.signalStop(stopDueToShutdown)
		rt.waitWithGrace(rec)
		return protocol.JobControlResponse{JobID: req.JobID, ResponseCode: protocol.Success}

	default:
		return protocol.JobControlResponse{JobID: req.JobID, ResponseCode: protocol.UnsupportedControlType}
	}
}

// waitWithGrace blocks until every worker task for rec has returned, or
// forcefully cancels their context after GraceWindow (spec.md §4.5.1,
// §5 "forceful interruption is applied only after a grace window").
func (rt *Runtime) waitWithGrace(rec *Record) {
	done := make(chan struct{})
	go func() {
		rec.tasksWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(GraceWindow):
		rt.log.Warn("grace window exceeded, forcing task interruption", zap.String("job_id", rec.Request.JobID))
		if rec.cancel != nil {
			rec.cancel()
		}
		<-done
	}
}

// start spawns threadsPerClient worker tasks, paced by
// threadStartupDelayMs, plus the stop watcher that fires at
// min(stopMillis-skew, actualStart+duration*1000). The start barrier itself
// (waiting for every assigned worker's SUCCESS before sending START at all)
// is the coordinator's responsibility (spec.md §4.6); this method only
// reacts to a START this worker already agreed to run.
func (rt *Runtime) start(ctx context.Context, rec *Record) {
	rec.mu.Lock()
	if rec.State != RecordPending {
		rec.mu.Unlock()
		return
	}
	rec.State = RecordRunning
	rec.ActualStartMillis = nowMillis()
	taskCtx, cancel := context.WithCancel(ctx)
	rec.cancel = cancel
	req := rec.Request
	rec.mu.Unlock()

	stopDeadlineMillis := rec.ActualStartMillis + int64(req.DurationSec)*1000
	if wireDeadline := rt.clock.CorrectInbound(req.StopMillis); wireDeadline < stopDeadlineMillis {
		stopDeadlineMillis = wireDeadline
	}
	rt.armStopWatcher(rec, stopDeadlineMillis)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if req.ThreadStartupDelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(req.ThreadStartupDelayMs)*time.Millisecond), 1)
	}

	for i := 0; i < req.ThreadsPerClient; i++ {
		rec.tasksWG.Add(1)
		threadID := i
		go func() {
			defer rec.tasksWG.Done()
			if err := limiter.Wait(taskCtx); err != nil {
				return
			}
			rt.runTask(taskCtx, rec, threadID)
		}()
	}

	go func() {
		rec.tasksWG.Wait()
		rt.finish(rec)
	}()
}

func (rt *Runtime) armStopWatcher(rec *Record, deadlineMillis int64) {
	delay := time.Until(time.UnixMilli(deadlineMillis))
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		rec.mu.Lock()
		alreadyStopped := rec.stopReason != stopNotRequested
		rec.mu.Unlock()
		if !alreadyStopped {
			rec.signalStop(stopByDuration)
		}
	})
	go func() {
		<-rec.stopCh
		timer.Stop()
	}()
}

// runTask executes one worker task: build its tracker, run the Workload,
// wire real-time reporting, and record any operational error into the
// job's log (spec.md §4.5.1 "Each worker task owns its own stat tracker(s)
// ... Trackers started in real-time mode stream through the registered
// reporter").
func (rt *Runtime) runTask(ctx context.Context, rec *Record, threadID int) {
	workload, err := rt.registry.New(rec.Request.JobClass)
	if err != nil {
		rec.AddLog(fmt.Sprintf("thread %d: %v", threadID, err))
		return
	}

	// The workload's context also ends on the record's cooperative stop
	// signal, not only on forceful cancellation of the task context.
	ctx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go func() {
		select {
		case <-rec.ShouldStop():
			stopRun()
		case <-ctx.Done():
		}
	}()

	tracker := stats.New(stats.KindFloat, rec.Request.JobClass,
		stats.Owner{ClientID: fmt.Sprintf("client-%d", rec.Request.ClientNumber), ThreadID: threadID},
		rec.Request.CollectionIntervalSec)
	tracker.Start(rt.clock.Now())
	rec.addTracker(tracker)

	reportDone := make(chan struct{})
	if rt.reporter != nil {
		go func() {
			defer close(reportDone)
			rt.streamIntervals(ctx, rec.Request.JobID, tracker)
		}()
	} else {
		close(reportDone)
	}

	runErr := runWorkload(ctx, workload, rec, tracker)

	tracker.Stop()
	<-reportDone
	if runErr != nil && ctx.Err() == nil {
		// ctx.Err() == nil means the workload returned its own error rather
		// than being cancelled by stop/grace escalation — an operational
		// error (spec.md §7 kind 3), not a cooperative stop.
		rec.AddLog(fmt.Sprintf("thread %d: %v", threadID, runErr))
	}
}

// streamIntervals publishes each newly completed interval bucket to the
// reporter as it closes, so an external observer (internal/wsfeed) sees
// near-live data instead of waiting for Job-Completed (spec.md §4.5.3
// "Real-time adapter").
func (rt *Runtime) streamIntervals(ctx context.Context, jobID string, tracker *stats.Tracker) {
	ticker := time.NewTicker(time.Duration(tracker.IntervalSec) * time.Second)
	defer ticker.Stop()

	published := 0
	for {
		select {
		case <-ctx.Done():
			rt.flushRemaining(jobID, tracker, &published)
			return
		case <-ticker.C:
			values, counts := tracker.Snapshot()
			for published < len(values)-1 { // last bucket may still be open
				rt.reporter.Publish([]stats.IntervalSample{{
					JobID:       jobID,
					DisplayName: tracker.DisplayName,
					Owner:       tracker.Owner,
					Interval:    published,
					Value:       values[published],
					Count:       counts[published],
				}})
				published++
			}
		}
	}
}

func (rt *Runtime) flushRemaining(jobID string, tracker *stats.Tracker, published *int) {
	values, counts := tracker.Snapshot()
	for *published < len(values) {
		rt.reporter.Publish([]stats.IntervalSample{{
			JobID:       jobID,
			DisplayName: tracker.DisplayName,
			Owner:       tracker.Owner,
			Interval:    *published,
			Value:       values[*published],
			Count:       counts[*published],
		}})
		*published++
	}
}

func runWorkload(ctx context.Context, w Workload, rec *Record, tracker *stats.Tracker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workload panic: %v", r)
		}
	}()
	return w.Run(ctx, rec.Request.Parameters, tracker)
}

// finish stamps ActualStopMillis and transitions the record to COMPLETED.
// The caller (the session's dispatch loop) is responsible for building and
// sending Job-Completed via Completion, then calling Remove.
func (rt *Runtime) finish(rec *Record) {
	rec.mu.Lock()
	rec.ActualStopMillis = nowMillis()
	rec.State = RecordCompleted
	jobID := rec.Request.JobID
	rec.mu.Unlock()

	select {
	case rt.completed <- jobID:
	default:
		rt.log.Warn("completed-notification channel full, dropping signal", zap.String("job_id", jobID))
	}
}

// Completion builds the Job-Completed message for jobID. Returns false if no
// record exists (already removed).
func (rt *Runtime) Completion(jobID string) (protocol.JobCompleted, bool) {
	rt.mu.Lock()
	rec, ok := rt.records[jobID]
	rt.mu.Unlock()
	if !ok {
		return protocol.JobCompleted{}, false
	}
	return rec.completion(rt.clock.CorrectOutbound), true
}

// IsCompleted reports whether jobID's record has finished all its tasks.
func (rt *Runtime) IsCompleted(jobID string) bool {
	rt.mu.Lock()
	rec, ok := rt.records[jobID]
	rt.mu.Unlock()
	return ok && rec.State == RecordCompleted
}

// Remove erases jobID's record, per spec.md §3 "removed after Job-Completed
// is sent".
func (rt *Runtime) Remove(jobID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.records, jobID)
}

// StopAllDueToShutdown signals every in-flight record to stop because the
// connection is draining (spec.md §4.4 step 5, §4.6 failure table "Server-
// Shutdown received by worker").
func (rt *Runtime) StopAllDueToShutdown() {
	rt.mu.Lock()
	recs := make([]*Record, 0, len(rt.records))
	for _, r := range rt.records {
		recs = append(recs, r)
	}
	rt.mu.Unlock()
	for _, r := range recs {
		r.signalStop(stopDueToShutdown)
	}
}

// JobIDs returns the set of jobIDs this runtime currently holds a record
// for — used by the caller to know what to wait for before closing.
func (rt *Runtime) JobIDs() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ids := make([]string, 0, len(rt.records))
	for id := range rt.records {
		ids = append(ids, id)
	}
	return ids
}
