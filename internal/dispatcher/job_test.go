package dispatcher

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/session"
	"github.com/loadfabric/loadfabric/internal/session/auth"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// connectFakeWorker dials id into the Manager over an in-process net.Pipe,
// running the real handshake (session.DialWorker/AcceptCoordinator) so the
// registered WorkerConn is indistinguishable from a real connection. script
// drives the worker side of the conversation after handshake.
func connectFakeWorker(t *testing.T, m *Manager, id string, script func(*session.Session)) {
	t.Helper()
	workerConn, coordConn := net.Pipe()
	t.Cleanup(func() { workerConn.Close(); coordConn.Close() })

	log := zap.NewNop()
	dialDone := make(chan *session.Session, 1)
	go func() {
		s, _, err := session.DialWorker(context.Background(), workerConn, session.Identity{
			Version: "1.0", ID: id,
		}, time.Second, log)
		if err != nil {
			t.Errorf("DialWorker(%s): %v", id, err)
			return
		}
		dialDone <- s
	}()

	accepted, hello, err := session.AcceptCoordinator(context.Background(), coordConn, session.AcceptConfig{
		ServerVersion: "1.0", ServerID: "coord-1", Verifier: auth.NewRegistry(), HandshakeTimeout: time.Second,
	}, log)
	if err != nil {
		t.Fatalf("AcceptCoordinator(%s): %v", id, err)
	}
	accepted.ReadTimeout = 200 * time.Millisecond
	m.Register(accepted, hello)

	workerSess := <-dialDone
	workerSess.ReadTimeout = 200 * time.Millisecond
	go script(workerSess)
}

// scriptedWorker answers Job-Request with SUCCESS, Job-Control START with
// SUCCESS, then (after simulating the job's duration) sends Job-Completed
// carrying a single integer tracker whose interval values are supplied by
// the caller — one per seed scenario in spec.md §8.
func scriptedWorker(t *testing.T, values []float64, state protocol.JobState) func(*session.Session) {
	return func(s *session.Session) {
		for {
			rcv, ok, err := s.ReadNext()
			if err != nil {
				return
			}
			if !ok {
				continue
			}
			switch body := rcv.Body.(type) {
			case protocol.JobRequest:
				if err := s.Reply(rcv.MessageID, protocol.JobResponse{JobID: body.JobID, ResponseCode: protocol.Success}); err != nil {
					t.Errorf("worker reply Job-Response: %v", err)
					return
				}
			case protocol.JobControlRequest:
				if err := s.Reply(rcv.MessageID, protocol.JobControlResponse{JobID: body.JobID, ResponseCode: protocol.Success}); err != nil {
					t.Errorf("worker reply Job-Control-Response: %v", err)
					return
				}
				// Give the dispatcher time to move from the start barrier into
				// awaitCompletion (which registers a fresh waiter) before this
				// sends Job-Completed, mirroring a real worker's job duration.
				time.Sleep(50 * time.Millisecond)
				tracker := stats.New(stats.KindInteger, "throughput", stats.Owner{ClientID: "w", ThreadID: 0}, 1)
				counts := make([]int64, len(values))
				for i := range counts {
					counts[i] = 1
				}
				if err := tracker.SetIntervalData(values, counts); err != nil {
					t.Errorf("SetIntervalData: %v", err)
					return
				}
				if err := s.Reply(rcv.MessageID, protocol.JobCompleted{
					JobID:             body.JobID,
					JobState:          state,
					ActualStartMillis: 1000,
					ActualStopMillis:  1000 + int64(len(values))*1000,
					ActualDurationSec: len(values),
					StatTrackers:      []*stats.Tracker{tracker},
				}); err != nil {
					t.Errorf("worker send Job-Completed: %v", err)
				}
				return
			}
		}
	}
}

func TestRunJobHappyPathOneWorker(t *testing.T) {
	log := zap.NewNop()
	m := NewManager(log)
	connectFakeWorker(t, m, "w1", scriptedWorker(t, []float64{1, 1, 1, 1, 1}, protocol.CompletedSuccessfully))

	d := NewDispatcher(m, log)
	d.startBarrierTimeout = 2 * time.Second
	d.completionGrace = 2 * time.Second

	result, err := d.RunJob(context.Background(), JobSpec{
		JobID: "J1", JobClass: "http-get", StartMillis: 0, StopMillis: 5000,
		DurationSec: 5, ThreadsPerClient: 2, CollectionIntervalSec: 1,
		ClientsNeeded: 1,
	})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if result.State != protocol.CompletedSuccessfully {
		t.Errorf("JobResult.State = %v, want COMPLETED_SUCCESSFULLY", result.State)
	}
	if len(result.Missing) != 0 {
		t.Errorf("expected no missing workers, got %v", result.Missing)
	}
	if len(result.Workers) != 1 {
		t.Fatalf("expected 1 merged tracker, got %d", len(result.Workers))
	}
	if n := result.Workers[0].IntervalCount(); n != 5 {
		t.Errorf("tracker interval count = %d, want 5", n)
	}
}

func TestRunJobAggregatesAcrossWorkers(t *testing.T) {
	// spec.md §8 scenario 6: two workers report the same display name with
	// [1,2,3]/[1,1,1] and [4,5,6]/[1,1,1]; aggregated totals are
	// [5,7,9]/[2,2,2].
	log := zap.NewNop()
	m := NewManager(log)
	connectFakeWorker(t, m, "w1", scriptedWorker(t, []float64{1, 2, 3}, protocol.CompletedSuccessfully))
	connectFakeWorker(t, m, "w2", scriptedWorker(t, []float64{4, 5, 6}, protocol.CompletedSuccessfully))

	d := NewDispatcher(m, log)
	d.startBarrierTimeout = 2 * time.Second
	d.completionGrace = 2 * time.Second

	result, err := d.RunJob(context.Background(), JobSpec{
		JobID: "J2", JobClass: "http-get", StartMillis: 0, StopMillis: 3000,
		DurationSec: 3, ThreadsPerClient: 1, CollectionIntervalSec: 1,
		ClientsNeeded: 2,
	})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if len(result.Workers) != 1 {
		t.Fatalf("expected trackers merged into 1 by display name, got %d", len(result.Workers))
	}
	values, counts := result.Workers[0].Snapshot()
	wantValues := []float64{5, 7, 9}
	wantCounts := []int64{2, 2, 2}
	for i := range wantValues {
		if values[i] != wantValues[i] {
			t.Errorf("aggregated value[%d] = %v, want %v", i, values[i], wantValues[i])
		}
		if counts[i] != wantCounts[i] {
			t.Errorf("aggregated count[%d] = %v, want %v", i, counts[i], wantCounts[i])
		}
	}
}

func TestRunJobMissingWorkerYieldsCompletedWithErrors(t *testing.T) {
	log := zap.NewNop()
	m := NewManager(log)
	workerConn, coordConn := net.Pipe()
	t.Cleanup(func() { workerConn.Close(); coordConn.Close() })

	dialDone := make(chan struct{}, 1)
	go func() {
		s, _, err := session.DialWorker(context.Background(), workerConn, session.Identity{Version: "1.0", ID: "silent"}, time.Second, log)
		if err != nil {
			return
		}
		dialDone <- struct{}{}
		s.ReadTimeout = 50 * time.Millisecond
		// Accept Job-Request and Job-Control but never send Job-Completed.
		for i := 0; i < 2; i++ {
			for {
				rcv, ok, err := s.ReadNext()
				if err != nil {
					return
				}
				if !ok {
					continue
				}
				switch body := rcv.Body.(type) {
				case protocol.JobRequest:
					s.Reply(rcv.MessageID, protocol.JobResponse{JobID: body.JobID, ResponseCode: protocol.Success})
				case protocol.JobControlRequest:
					s.Reply(rcv.MessageID, protocol.JobControlResponse{JobID: body.JobID, ResponseCode: protocol.Success})
				}
				break
			}
		}
	}()

	accepted, hello, err := session.AcceptCoordinator(context.Background(), coordConn, session.AcceptConfig{
		ServerVersion: "1.0", ServerID: "coord-1", Verifier: auth.NewRegistry(), HandshakeTimeout: time.Second,
	}, log)
	if err != nil {
		t.Fatalf("AcceptCoordinator: %v", err)
	}
	accepted.ReadTimeout = 50 * time.Millisecond
	m.Register(accepted, hello)
	<-dialDone

	d := NewDispatcher(m, log)
	d.startBarrierTimeout = 2 * time.Second
	d.completionGrace = 100 * time.Millisecond

	result, err := d.RunJob(context.Background(), JobSpec{
		JobID: "J3", JobClass: "http-get", StartMillis: 0, StopMillis: 100,
		DurationSec: 1, ThreadsPerClient: 1, CollectionIntervalSec: 1,
		ClientsNeeded: 1,
	})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if result.State != protocol.CompletedWithErrors {
		t.Errorf("JobResult.State = %v, want COMPLETED_WITH_ERRORS", result.State)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "silent" {
		t.Errorf("Missing = %v, want [silent]", result.Missing)
	}
}
