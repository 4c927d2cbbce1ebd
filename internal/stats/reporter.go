package stats

import (
	"sync"

	"go.uber.org/zap"
)

// IntervalSample is one completed interval's summary for a single tracker,
// the unit the real-time channel ships (spec.md §4.3 Real-time adapter).
type IntervalSample struct {
	JobID       string
	DisplayName string
	Owner       Owner
	Interval    int
	Value       float64
	Count       int64
}

// Sink receives batches of completed intervals. Implementations must not
// block the caller for long — delivery is best-effort and a slow or failing
// sink must never stall the worker task that produced the samples
// (spec.md §4.3: "a stat channel failure logs and continues; it never fails
// the job").
type Sink interface {
	Publish(samples []IntervalSample)
}

// Reporter fans out completed-interval batches to zero or more registered
// sinks (e.g. the real stat-channel connection, the external websocket
// observer feed). Modeled on the single-writer pub/sub loop the teacher uses
// for its event hub, adapted here to a simple guarded slice since trackers
// publish far less often than the hub's per-client registration churn.
type Reporter struct {
	mu   sync.RWMutex
	subs []Sink
	log  *zap.Logger

	dropped int64
}

// NewReporter builds a Reporter. log may be nil, in which case a no-op
// logger is used.
func NewReporter(log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{log: log.Named("stats.reporter")}
}

// Subscribe registers sink to receive future Publish batches.
func (r *Reporter) Subscribe(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sink)
}

// Publish delivers samples to every registered sink. A panic or failure
// within one sink must not be allowed to prevent delivery to the others or
// to propagate back into the worker task — so each sink is invoked directly
// but its job is to enqueue, never to do blocking I/O inline.
func (r *Reporter) Publish(samples []IntervalSample) {
	if len(samples) == 0 {
		return
	}
	r.mu.RLock()
	subs := append([]Sink(nil), r.subs...)
	r.mu.RUnlock()

	for _, s := range subs {
		r.safePublish(s, samples)
	}
}

func (r *Reporter) safePublish(s Sink, samples []IntervalSample) {
	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			r.dropped += int64(len(samples))
			r.mu.Unlock()
			r.log.Warn("stat sink panicked, dropping batch", zap.Any("recover", rec))
		}
	}()
	s.Publish(samples)
}

// DroppedCount returns the number of samples lost to sink failures since
// startup — drops are counted but never block the job (spec.md §4.5.3).
func (r *Reporter) DroppedCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
