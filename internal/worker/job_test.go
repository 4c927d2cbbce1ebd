package worker

import (
	"testing"

	"github.com/loadfabric/loadfabric/internal/protocol"
)

func baseRequest() protocol.JobRequest {
	return protocol.JobRequest{
		JobID:                 "job-1",
		JobClass:              "http-load",
		StartMillis:           1000,
		StopMillis:            2000,
		ClientNumber:          0,
		DurationSec:           1,
		ThreadsPerClient:      2,
		ThreadStartupDelayMs:  0,
		CollectionIntervalSec: 1,
	}
}

func TestSignalStopIsIdempotent(t *testing.T) {
	rec := newRecord(baseRequest())
	rec.signalStop(stopByUser)
	rec.signalStop(stopDueToError) // second call must not override the first reason

	rec.mu.Lock()
	reason := rec.stopReason
	rec.mu.Unlock()
	if reason != stopByUser {
		t.Fatalf("stopReason = %v, want stopByUser", reason)
	}

	select {
	case <-rec.ShouldStop():
	default:
		t.Fatal("ShouldStop channel not closed after signalStop")
	}
}

func TestTerminalStateByStopReason(t *testing.T) {
	cases := []struct {
		reason StopReason
		logs   []string
		want   protocol.JobState
	}{
		{stopByUser, nil, protocol.StoppedByUser},
		{stopDueToShutdown, nil, protocol.StoppedDueToShutdown},
		{stopDueToError, nil, protocol.StoppedDueToError},
		{stopByDuration, nil, protocol.CompletedSuccessfully},
		{stopByDuration, []string{"thread 0: dial refused"}, protocol.CompletedWithErrors},
	}
	for _, c := range cases {
		rec := newRecord(baseRequest())
		rec.stopReason = c.reason
		rec.logs = c.logs
		if got := rec.terminalState(); got != c.want {
			t.Errorf("reason=%v logs=%v: terminalState() = %v, want %v", c.reason, c.logs, got, c.want)
		}
	}
}

func TestCompletionDerivesDurationAndAppliesSkew(t *testing.T) {
	rec := newRecord(baseRequest())
	rec.ActualStartMillis = 10_000
	rec.ActualStopMillis = 13_000
	rec.stopReason = stopByDuration

	correctOutbound := func(ms int64) int64 { return ms + 500 } // simulate +500ms peer skew

	completed := rec.completion(correctOutbound)
	if completed.JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", completed.JobID)
	}
	if completed.ActualStartMillis != 10_500 || completed.ActualStopMillis != 13_500 {
		t.Errorf("skew not applied: got start=%d stop=%d", completed.ActualStartMillis, completed.ActualStopMillis)
	}
	if completed.ActualDurationSec != 3 {
		t.Errorf("ActualDurationSec = %d, want 3", completed.ActualDurationSec)
	}
	if completed.JobState != protocol.CompletedSuccessfully {
		t.Errorf("JobState = %v, want CompletedSuccessfully", completed.JobState)
	}
}

func TestMergedTrackersAggregatesByDisplayName(t *testing.T) {
	rec := newRecord(baseRequest())

	a := newTestTracker(t, "requests", 0)
	b := newTestTracker(t, "requests", 1)
	c := newTestTracker(t, "errors", 0)
	rec.addTracker(a)
	rec.addTracker(b)
	rec.addTracker(c)

	merged := rec.mergedTrackers()
	if len(merged) != 2 {
		t.Fatalf("mergedTrackers() returned %d trackers, want 2 (requests, errors)", len(merged))
	}

	names := map[string]bool{}
	for _, tr := range merged {
		names[tr.DisplayName] = true
	}
	if !names["requests"] || !names["errors"] {
		t.Fatalf("merged trackers missing expected display names: %v", names)
	}
}
