package protocol

import (
	"fmt"

	"github.com/loadfabric/loadfabric/internal/stats"
	"github.com/loadfabric/loadfabric/internal/wire"
)

// Parameter is one workload-specific key/value pair carried opaquely by
// Job-Request — the core never interprets these, it only round-trips them
// to the leaf workload plugin (spec.md §1 Non-goal (a)).
type Parameter struct {
	Key   string
	Value string
}

// JobRequest is issued by the coordinator to assign work to a worker
// (spec.md §3 Job-Request, §4.5.1).
type JobRequest struct {
	JobID                 string
	JobClass              string
	StartMillis           int64
	StopMillis            int64
	ClientNumber          int
	DurationSec           int
	ThreadsPerClient      int
	ThreadStartupDelayMs  int
	CollectionIntervalSec int
	Parameters            []Parameter
}

func (m JobRequest) Tag() byte { return wire.TagJobRequest }

// Validate enforces the cross-field constraints spec.md §4.2 calls out by
// name: threadsPerClient >= 1, collectionIntervalSec >= 1.
func (m JobRequest) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("protocol: JobRequest.JobID must not be empty")
	}
	if m.JobClass == "" {
		return fmt.Errorf("protocol: JobRequest.JobClass must not be empty")
	}
	if m.ThreadsPerClient < 1 {
		return fmt.Errorf("protocol: JobRequest.ThreadsPerClient must be >= 1, got %d", m.ThreadsPerClient)
	}
	if m.CollectionIntervalSec < 1 {
		return fmt.Errorf("protocol: JobRequest.CollectionIntervalSec must be >= 1, got %d", m.CollectionIntervalSec)
	}
	if m.StopMillis < m.StartMillis {
		return fmt.Errorf("protocol: JobRequest.StopMillis must be >= StartMillis")
	}
	return nil
}

func (m JobRequest) Encode() wire.Element {
	params := make([]wire.Element, 0, len(m.Parameters))
	for _, p := range m.Parameters {
		params = append(params, wire.NewComposite(wire.UniversalComposite(wire.TypeSequence),
			wire.NewOctets([]byte(p.Key)),
			wire.NewOctets([]byte(p.Value)),
		))
	}
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewOctets([]byte(m.JobID)),
		wire.NewOctets([]byte(m.JobClass)),
		wire.NewInteger(m.StartMillis),
		wire.NewInteger(m.StopMillis),
		wire.NewInteger(int64(m.ClientNumber)),
		wire.NewInteger(int64(m.DurationSec)),
		wire.NewInteger(int64(m.ThreadsPerClient)),
		wire.NewInteger(int64(m.ThreadStartupDelayMs)),
		wire.NewInteger(int64(m.CollectionIntervalSec)),
		wire.NewComposite(wire.UniversalComposite(wire.TypeSequence), params...),
	)
}

func decodeJobRequest(el wire.Element) (JobRequest, error) {
	if len(el.Children) != 10 {
		return JobRequest{}, fmt.Errorf("protocol: JobRequest expects 10 fields, got %d", len(el.Children))
	}
	c := el.Children
	startMillis, err := c[2].Int()
	if err != nil {
		return JobRequest{}, fmt.Errorf("protocol: JobRequest.StartMillis: %w", err)
	}
	stopMillis, err := c[3].Int()
	if err != nil {
		return JobRequest{}, fmt.Errorf("protocol: JobRequest.StopMillis: %w", err)
	}
	clientNumber, err := c[4].Int()
	if err != nil {
		return JobRequest{}, fmt.Errorf("protocol: JobRequest.ClientNumber: %w", err)
	}
	durationSec, err := c[5].Int()
	if err != nil {
		return JobRequest{}, fmt.Errorf("protocol: JobRequest.DurationSec: %w", err)
	}
	threadsPerClient, err := c[6].Int()
	if err != nil {
		return JobRequest{}, fmt.Errorf("protocol: JobRequest.ThreadsPerClient: %w", err)
	}
	startupDelay, err := c[7].Int()
	if err != nil {
		return JobRequest{}, fmt.Errorf("protocol: JobRequest.ThreadStartupDelayMs: %w", err)
	}
	intervalSec, err := c[8].Int()
	if err != nil {
		return JobRequest{}, fmt.Errorf("protocol: JobRequest.CollectionIntervalSec: %w", err)
	}

	var params []Parameter
	for _, p := range c[9].Children {
		if len(p.Children) != 2 {
			return JobRequest{}, fmt.Errorf("protocol: JobRequest parameter entry must have 2 fields")
		}
		params = append(params, Parameter{Key: p.Children[0].String(), Value: p.Children[1].String()})
	}

	return JobRequest{
		JobID:                 c[0].String(),
		JobClass:              c[1].String(),
		StartMillis:           startMillis,
		StopMillis:            stopMillis,
		ClientNumber:          int(clientNumber),
		DurationSec:           int(durationSec),
		ThreadsPerClient:      int(threadsPerClient),
		ThreadStartupDelayMs:  int(startupDelay),
		CollectionIntervalSec: int(intervalSec),
		Parameters:            params,
	}, nil
}

// JobResponse answers a Job-Request (spec.md §3 Job-Response, §4.5.1
// rejection categories).
type JobResponse struct {
	JobID        string
	ResponseCode ResponseCode
	Message      string
}

func (m JobResponse) Tag() byte { return wire.TagJobResponse }

func (m JobResponse) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("protocol: JobResponse.JobID must not be empty")
	}
	return nil
}

func (m JobResponse) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewOctets([]byte(m.JobID)),
		wire.NewEnum(int64(m.ResponseCode)),
		wire.NewOctets([]byte(m.Message)),
	)
}

func decodeJobResponse(el wire.Element) (JobResponse, error) {
	if len(el.Children) != 3 {
		return JobResponse{}, fmt.Errorf("protocol: JobResponse expects 3 fields, got %d", len(el.Children))
	}
	code, err := el.Children[1].Int()
	if err != nil {
		return JobResponse{}, fmt.Errorf("protocol: JobResponse.ResponseCode: %w", err)
	}
	return JobResponse{
		JobID:        el.Children[0].String(),
		ResponseCode: ResponseCode(code),
		Message:      el.Children[2].String(),
	}, nil
}

// JobCompleted is sent once by a worker when a job's record is erased
// (spec.md §3 Job-Completed, §4.5.1 "On completion"). StatTrackers carries
// the per-thread trackers merged by display name; LogMessages carries the
// job's accumulated operational-error log (spec.md §7 kind 3).
type JobCompleted struct {
	JobID             string
	JobState          JobState
	ActualStartMillis int64
	ActualStopMillis  int64
	ActualDurationSec int
	StatTrackers      []*stats.Tracker
	LogMessages       []string
}

func (m JobCompleted) Tag() byte { return wire.TagJobCompleted }

// Validate enforces spec.md §3's invariant actualStopMillis >=
// actualStartMillis and the derived actualDurationSec relation.
func (m JobCompleted) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("protocol: JobCompleted.JobID must not be empty")
	}
	if m.ActualStopMillis < m.ActualStartMillis {
		return fmt.Errorf("protocol: JobCompleted.ActualStopMillis must be >= ActualStartMillis")
	}
	want := int((m.ActualStopMillis - m.ActualStartMillis) / 1000)
	if m.ActualDurationSec != want {
		return fmt.Errorf("protocol: JobCompleted.ActualDurationSec %d does not match floor((stop-start)/1000)=%d",
			m.ActualDurationSec, want)
	}
	return nil
}

func (m JobCompleted) Encode() wire.Element {
	trackers := make([]wire.Element, len(m.StatTrackers))
	for i, t := range m.StatTrackers {
		trackers[i] = t.Encode()
	}
	logs := make([]wire.Element, len(m.LogMessages))
	for i, l := range m.LogMessages {
		logs[i] = wire.NewOctets([]byte(l))
	}
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewOctets([]byte(m.JobID)),
		wire.NewEnum(int64(m.JobState)),
		wire.NewInteger(m.ActualStartMillis),
		wire.NewInteger(m.ActualStopMillis),
		wire.NewInteger(int64(m.ActualDurationSec)),
		wire.NewComposite(wire.UniversalComposite(wire.TypeSequence), trackers...),
		wire.NewComposite(wire.UniversalComposite(wire.TypeSequence), logs...),
	)
}

func decodeJobCompleted(el wire.Element) (JobCompleted, error) {
	if len(el.Children) != 7 {
		return JobCompleted{}, fmt.Errorf("protocol: JobCompleted expects 7 fields, got %d", len(el.Children))
	}
	c := el.Children
	state, err := c[1].Int()
	if err != nil {
		return JobCompleted{}, fmt.Errorf("protocol: JobCompleted.JobState: %w", err)
	}
	startMillis, err := c[2].Int()
	if err != nil {
		return JobCompleted{}, fmt.Errorf("protocol: JobCompleted.ActualStartMillis: %w", err)
	}
	stopMillis, err := c[3].Int()
	if err != nil {
		return JobCompleted{}, fmt.Errorf("protocol: JobCompleted.ActualStopMillis: %w", err)
	}
	durationSec, err := c[4].Int()
	if err != nil {
		return JobCompleted{}, fmt.Errorf("protocol: JobCompleted.ActualDurationSec: %w", err)
	}

	trackers := make([]*stats.Tracker, 0, len(c[5].Children))
	for _, te := range c[5].Children {
		t, err := stats.Decode(te)
		if err != nil {
			return JobCompleted{}, fmt.Errorf("protocol: JobCompleted tracker: %w", err)
		}
		trackers = append(trackers, t)
	}

	var logs []string
	for _, le := range c[6].Children {
		logs = append(logs, le.String())
	}

	return JobCompleted{
		JobID:             c[0].String(),
		JobState:          JobState(state),
		ActualStartMillis: startMillis,
		ActualStopMillis:  stopMillis,
		ActualDurationSec: int(durationSec),
		StatTrackers:      trackers,
		LogMessages:       logs,
	}, nil
}
