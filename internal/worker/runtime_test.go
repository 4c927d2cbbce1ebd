package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

func newTestTracker(t *testing.T, displayName string, seed int64) *stats.Tracker {
	t.Helper()
	tr := stats.New(stats.KindInteger, displayName, stats.Owner{ClientID: "w", ThreadID: int(seed)}, 1)
	if err := tr.SetIntervalData([]float64{float64(seed) + 1}, []int64{1}); err != nil {
		t.Fatalf("SetIntervalData: %v", err)
	}
	return tr
}

// fixedClock is a Clock with a constant, caller-chosen skew, letting tests
// assert exact scheduling math without depending on wall time.
type fixedClock struct {
	now        time.Time
	skewMillis int64
}

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) CorrectInbound(peerMillis int64) int64 {
	return peerMillis - c.skewMillis
}
func (c fixedClock) CorrectOutbound(localMillis int64) int64 {
	return localMillis + c.skewMillis
}

// countingWorkload runs until ctx is cancelled, incrementing its tracker
// once per loop so tests can observe that it actually ran.
type countingWorkload struct {
	runs *int32mu
}

type int32mu struct {
	mu sync.Mutex
	n  int
}

func (w countingWorkload) Run(ctx context.Context, _ []protocol.Parameter, tracker *stats.Tracker) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			w.runs.mu.Lock()
			w.runs.n++
			w.runs.mu.Unlock()
			tracker.Increment(time.Now())
			time.Sleep(time.Millisecond)
		}
	}
}

func newTestRuntime() (*Runtime, *Registry) {
	reg := NewRegistry()
	counter := &int32mu{}
	reg.Register("counting", func() Workload { return countingWorkload{runs: counter} })
	rt := NewRuntime(fixedClock{now: time.Now()}, reg, nil, zap.NewNop())
	return rt, reg
}

func TestHandleJobRequestCreatesRecordOnce(t *testing.T) {
	rt, _ := newTestRuntime()
	req := baseRequest()
	req.JobClass = "counting"

	resp := rt.HandleJobRequest(req)
	if resp.ResponseCode != protocol.Success {
		t.Fatalf("first Job-Request: ResponseCode = %v, want Success", resp.ResponseCode)
	}

	dup := rt.HandleJobRequest(req)
	if dup.ResponseCode != protocol.ClientBusy {
		t.Fatalf("duplicate Job-Request: ResponseCode = %v, want ClientBusy", dup.ResponseCode)
	}
}

func TestHandleJobRequestRejectsUnknownClass(t *testing.T) {
	rt, _ := newTestRuntime()
	req := baseRequest()
	req.JobClass = "does-not-exist"

	resp := rt.HandleJobRequest(req)
	if resp.ResponseCode != protocol.UnsupportedJobClass {
		t.Fatalf("ResponseCode = %v, want UnsupportedJobClass", resp.ResponseCode)
	}
}

func TestJobControlOnUnknownJobReturnsNoSuchJob(t *testing.T) {
	rt, _ := newTestRuntime()
	resp := rt.HandleJobControl(context.Background(), protocol.JobControlRequest{JobID: "ghost", Op: protocol.OpStart})
	if resp.ResponseCode != protocol.NoSuchJob {
		t.Fatalf("ResponseCode = %v, want NoSuchJob", resp.ResponseCode)
	}
}

func TestStartRunsTasksUntilDurationElapses(t *testing.T) {
	rt, _ := newTestRuntime()
	req := baseRequest()
	req.JobClass = "counting"
	req.ThreadsPerClient = 3
	req.DurationSec = 1 // stop watcher should fire ~1s after start
	req.StopMillis = time.Now().UnixMilli() + 60_000

	if resp := rt.HandleJobRequest(req); resp.ResponseCode != protocol.Success {
		t.Fatalf("Job-Request: %v", resp.ResponseCode)
	}
	ctrl := rt.HandleJobControl(context.Background(), protocol.JobControlRequest{JobID: req.JobID, Op: protocol.OpStart})
	if ctrl.ResponseCode != protocol.Success {
		t.Fatalf("Job-Control START: %v", ctrl.ResponseCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rt.IsCompleted(req.JobID) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !rt.IsCompleted(req.JobID) {
		t.Fatal("job did not reach COMPLETED within the expected window")
	}

	completed, ok := rt.Completion(req.JobID)
	if !ok {
		t.Fatal("Completion() reported no record, want one")
	}
	if completed.JobState != protocol.CompletedSuccessfully {
		t.Errorf("JobState = %v, want CompletedSuccessfully", completed.JobState)
	}
	if completed.ActualDurationSec < 1 {
		t.Errorf("ActualDurationSec = %d, want >= 1", completed.ActualDurationSec)
	}

	rt.Remove(req.JobID)
	if _, ok := rt.Completion(req.JobID); ok {
		t.Fatal("Completion() still reports a record after Remove")
	}
}

func TestStopAndWaitBlocksUntilTasksExit(t *testing.T) {
	rt, _ := newTestRuntime()
	req := baseRequest()
	req.JobClass = "counting"
	req.ThreadsPerClient = 2
	req.DurationSec = 60 // long enough that only STOP_AND_WAIT ends it
	req.StopMillis = time.Now().UnixMilli() + 3_600_000

	rt.HandleJobRequest(req)
	rt.HandleJobControl(context.Background(), protocol.JobControlRequest{JobID: req.JobID, Op: protocol.OpStart})
	time.Sleep(20 * time.Millisecond) // let tasks actually start looping

	resp := rt.HandleJobControl(context.Background(), protocol.JobControlRequest{JobID: req.JobID, Op: protocol.OpStopAndWait})
	if resp.ResponseCode != protocol.Success {
		t.Fatalf("STOP_AND_WAIT: %v", resp.ResponseCode)
	}
	if !rt.IsCompleted(req.JobID) {
		t.Fatal("STOP_AND_WAIT returned before the record reached COMPLETED")
	}

	completed, _ := rt.Completion(req.JobID)
	if completed.JobState != protocol.StoppedByUser {
		t.Errorf("JobState = %v, want StoppedByUser", completed.JobState)
	}
}

func TestStopAllDueToShutdownSignalsEveryRecord(t *testing.T) {
	rt, _ := newTestRuntime()
	for i := 0; i < 3; i++ {
		req := baseRequest()
		req.JobID = fmt.Sprintf("job-%d", i)
		req.JobClass = "counting"
		rt.HandleJobRequest(req)
	}

	rt.StopAllDueToShutdown()

	for _, id := range rt.JobIDs() {
		rt.mu.Lock()
		rec := rt.records[id]
		rt.mu.Unlock()
		select {
		case <-rec.ShouldStop():
		default:
			t.Errorf("record %s was not signalled to stop", id)
		}
	}
}
