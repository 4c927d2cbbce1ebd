package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loadfabric/loadfabric/internal/obsv"
	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// DefaultStartBarrierTimeout bounds how long the dispatcher waits for every
// assigned worker's Job-Response=SUCCESS before aborting the job (spec.md
// §4.6 "bounded window (default 30 s)").
const DefaultStartBarrierTimeout = 30 * time.Second

// DefaultCompletionGrace is added to (stopMillis-startMillis) to bound how
// long the dispatcher waits for a worker's Job-Completed before marking it
// missing (spec.md §4.6 "within (stopMillis − startMillis) + grace").
const DefaultCompletionGrace = 10 * time.Second

// JobSpec is the coordinator's description of a job to run across a fleet
// of workers, independent of which specific workers end up assigned.
type JobSpec struct {
	JobID                 string
	JobClass              string
	StartMillis           int64
	StopMillis            int64
	DurationSec           int
	ThreadsPerClient      int
	ThreadStartupDelayMs  int
	CollectionIntervalSec int
	Parameters            []protocol.Parameter

	ClientsNeeded int
	Policy        SelectionPolicy
}

// JobResult is what RunJob returns once every assigned worker has completed,
// been marked missing, or the job was aborted during the start barrier.
type JobResult struct {
	JobID   string
	State   protocol.JobState
	Workers []*stats.Tracker // merged by display name across all workers
	Missing []string         // worker IDs that never returned Job-Completed
}

// Dispatcher runs jobs across a Manager's connected workers (spec.md §4.6).
type Dispatcher struct {
	manager             *Manager
	log                 *zap.Logger
	startBarrierTimeout time.Duration
	completionGrace     time.Duration
}

// NewDispatcher builds a Dispatcher with spec.md's default timeouts.
func NewDispatcher(manager *Manager, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		manager:             manager,
		log:                 log.Named("dispatcher.job"),
		startBarrierTimeout: DefaultStartBarrierTimeout,
		completionGrace:     DefaultCompletionGrace,
	}
}

// RunJob selects workers, runs the Request/Response start barrier, issues
// Job-Control START, then waits for completion from every assigned worker,
// aggregating their trackers (spec.md §4.6). The whole call is wrapped in a
// single span covering the job's Request→Response→Run→Completed lifetime as
// seen from the coordinator, tagged with the resulting job state (or the
// abort error) when it ends.
func (d *Dispatcher) RunJob(ctx context.Context, spec JobSpec) (JobResult, error) {
	ctx, span := obsv.StartJobSpan(ctx, spec.JobID, spec.JobClass)
	defer span.End()

	selected := spec.Policy.Select(d.manager.Connected(), spec.ClientsNeeded)
	if len(selected) < spec.ClientsNeeded {
		err := fmt.Errorf("dispatcher: only %d of %d required workers are eligible for job %s",
			len(selected), spec.ClientsNeeded, spec.JobID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return JobResult{}, err
	}

	if err := d.requestAndBarrier(ctx, spec, selected); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return JobResult{JobID: spec.JobID, State: protocol.StoppedDueToError}, err
	}

	result := d.awaitCompletion(spec, selected)
	span.SetAttributes(attribute.String("job.state", result.State.String()))
	if result.State == protocol.CompletedWithErrors || result.State == protocol.StoppedDueToError {
		span.SetStatus(codes.Error, result.State.String())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result, nil
}

// requestAndBarrier sends Job-Request to every selected worker, waits for
// all of them to answer SUCCESS within startBarrierTimeout, then fires
// Job-Control START. If any worker fails the barrier, every worker that did
// answer SUCCESS is told STOP_AND_WAIT and the job never starts (spec.md
// §4.6 "If any worker fails to return SUCCESS within a bounded window ...
// the dispatcher broadcasts STOP_AND_WAIT").
//
// An errgroup.Group fits this step precisely: the barrier either succeeds
// for every worker or the whole job aborts on the first failure, which is
// exactly errgroup's first-error-cancels-the-group contract.
func (d *Dispatcher) requestAndBarrier(ctx context.Context, spec JobSpec, workers []*WorkerConn) error {
	barrierCtx, cancel := context.WithTimeout(ctx, d.startBarrierTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(barrierCtx)
	acked := make([]bool, len(workers))

	for i, wc := range workers {
		i, wc := i, wc
		g.Go(func() error {
			req := protocol.JobRequest{
				JobID:                 spec.JobID,
				JobClass:              spec.JobClass,
				StartMillis:           spec.StartMillis,
				StopMillis:            spec.StopMillis,
				ClientNumber:          i,
				DurationSec:           spec.DurationSec,
				ThreadsPerClient:      spec.ThreadsPerClient,
				ThreadStartupDelayMs:  spec.ThreadStartupDelayMs,
				CollectionIntervalSec: spec.CollectionIntervalSec,
				Parameters:            spec.Parameters,
			}
			waiter := wc.expect(spec.JobID)
			if _, err := wc.Session.Send(req); err != nil {
				wc.cancelExpect(spec.JobID)
				return fmt.Errorf("worker %s: send Job-Request: %w", wc.ID, err)
			}

			select {
			case <-gctx.Done():
				wc.cancelExpect(spec.JobID)
				return gctx.Err()
			case msg := <-waiter:
				resp, ok := msg.(protocol.JobResponse)
				if !ok {
					return fmt.Errorf("worker %s: expected Job-Response, got %T", wc.ID, msg)
				}
				if resp.ResponseCode != protocol.Success {
					return fmt.Errorf("worker %s: Job-Response %s: %s", wc.ID, resp.ResponseCode, resp.Message)
				}
				acked[i] = true
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		d.abortAcked(spec.JobID, workers, acked)
		return err
	}

	for i, wc := range workers {
		ctrl := protocol.JobControlRequest{JobID: spec.JobID, Op: protocol.OpStart}
		waiter := wc.expect(spec.JobID)
		if _, err := wc.Session.Send(ctrl); err != nil {
			wc.cancelExpect(spec.JobID)
			d.log.Warn("send Job-Control START failed", zap.String("worker_id", wc.ID), zap.Error(err))
			continue
		}
		// The START acknowledgement is consumed here so it doesn't linger in
		// the waiter map and get confused with the eventual Job-Completed.
		select {
		case <-waiter:
		case <-time.After(d.startBarrierTimeout):
			wc.cancelExpect(spec.JobID)
		}
		_ = i
	}
	return nil
}

// abortAcked sends STOP_AND_WAIT to every worker that already accepted the
// job before the barrier failed (spec.md §4.6).
func (d *Dispatcher) abortAcked(jobID string, workers []*WorkerConn, acked []bool) {
	for i, wc := range workers {
		if !acked[i] {
			continue
		}
		waiter := wc.expect(jobID)
		if _, err := wc.Session.Send(protocol.JobControlRequest{JobID: jobID, Op: protocol.OpStopAndWait}); err != nil {
			wc.cancelExpect(jobID)
			continue
		}
		go func() { <-waiter }() // drain asynchronously; the job is already aborted
	}
}

// awaitCompletion waits for Job-Completed from every worker, bounded by
// (stopMillis-startMillis)+grace, and merges their trackers by display name
// (spec.md §4.6 "Completion aggregation").
func (d *Dispatcher) awaitCompletion(spec JobSpec, workers []*WorkerConn) JobResult {
	deadline := time.Duration(spec.StopMillis-spec.StartMillis)*time.Millisecond + d.completionGrace
	expired := make(chan struct{})
	timer := time.AfterFunc(deadline, func() { close(expired) })
	defer timer.Stop()

	type outcome struct {
		worker    *WorkerConn
		completed protocol.JobCompleted
		missing   bool
	}
	results := make(chan outcome, len(workers))

	for _, wc := range workers {
		wc := wc
		waiter := wc.expect(spec.JobID)
		go func() {
			select {
			case msg := <-waiter:
				completed, ok := msg.(protocol.JobCompleted)
				if !ok {
					results <- outcome{worker: wc, missing: true}
					return
				}
				results <- outcome{worker: wc, completed: completed}
			case <-expired:
				wc.cancelExpect(spec.JobID)
				results <- outcome{worker: wc, missing: true}
			}
		}()
	}

	merged := make(map[string]*stats.Tracker)
	var order []string
	var missing []string
	worstState := protocol.CompletedSuccessfully

	for range workers {
		o := <-results
		if o.missing {
			missing = append(missing, o.worker.ID)
			continue
		}
		for _, t := range o.completed.StatTrackers {
			if existing, ok := merged[t.DisplayName]; ok {
				_ = existing.Aggregate(t)
				continue
			}
			merged[t.DisplayName] = t
			order = append(order, t.DisplayName)
		}
		if severity(o.completed.JobState) > severity(worstState) {
			worstState = o.completed.JobState
		}
	}

	final := worstState
	if len(missing) > 0 {
		final = protocol.CompletedWithErrors
	}

	trackers := make([]*stats.Tracker, 0, len(order))
	for _, name := range order {
		trackers = append(trackers, merged[name])
	}

	return JobResult{JobID: spec.JobID, State: final, Workers: trackers, Missing: missing}
}

// severity orders terminal job states so awaitCompletion can pick the worst
// one observed across all workers.
func severity(s protocol.JobState) int {
	switch s {
	case protocol.CompletedSuccessfully:
		return 0
	case protocol.StoppedByUser:
		return 1
	case protocol.StoppedDueToShutdown:
		return 1
	case protocol.CompletedWithErrors:
		return 2
	case protocol.StoppedDueToError:
		return 3
	default:
		return 0
	}
}
