package wsfeed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/stats"
)

// Hub is the central broker for websocket observers of interval samples,
// keyed directly on jobID: an observer subscribes to exactly one job, and
// Publish fans each reported sample out to that job's subscribers only. A
// single writer goroutine (Run) owns register/unregister; Publish takes a
// brief read-lock to copy the target set and sends outside it so a slow
// client never stalls the event loop or the stat-producing worker task
// calling Publish (spec.md §4.5.3: a stat channel failure must never fail
// the job).
type Hub struct {
	observers map[*observer]struct{}
	byJob     map[string]map[*observer]struct{}

	mu sync.RWMutex

	register   chan *observer
	unregister chan *observer
	stopped    chan struct{}

	log *zap.Logger
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		observers:  make(map[*observer]struct{}),
		byJob:      make(map[string]map[*observer]struct{}),
		register:   make(chan *observer, 16),
		unregister: make(chan *observer, 16),
		stopped:    make(chan struct{}),
		log:        log.Named("wsfeed.hub"),
	}
}

// Run starts the hub's event loop. Must be called exactly once, in its own
// goroutine, and exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case o := <-h.register:
			h.mu.Lock()
			h.observers[o] = struct{}{}
			if h.byJob[o.jobID] == nil {
				h.byJob[o.jobID] = make(map[*observer]struct{})
			}
			h.byJob[o.jobID][o] = struct{}{}
			h.mu.Unlock()

		case o := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.observers[o]; ok {
				delete(h.observers, o)
				delete(h.byJob[o.jobID], o)
				if len(h.byJob[o.jobID]) == 0 {
					delete(h.byJob, o.jobID)
				}
				close(o.send)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for o := range h.observers {
				close(o.send)
			}
			h.observers = make(map[*observer]struct{})
			h.byJob = make(map[string]map[*observer]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Publish implements stats.Sink, letting a Hub be registered directly with
// a stats.Reporter: each sample is fanned out to its job's subscribers.
// Delivery is best-effort — an observer whose send buffer is full is
// disconnected rather than allowed to stall the rest of the job's
// subscribers or the caller.
func (h *Hub) Publish(samples []stats.IntervalSample) {
	for _, s := range samples {
		update := IntervalUpdate{
			JobID:       s.JobID,
			DisplayName: s.DisplayName,
			ClientID:    s.Owner.ClientID,
			ThreadID:    s.Owner.ThreadID,
			Interval:    s.Interval,
			Value:       s.Value,
			Count:       s.Count,
		}

		h.mu.RLock()
		targets := h.byJob[s.JobID]
		var observers []*observer
		for o := range targets {
			observers = append(observers, o)
		}
		h.mu.RUnlock()

		for _, o := range observers {
			select {
			case o.send <- update:
			default:
				h.unregister <- o
			}
		}
	}
}

// subscribe registers o with the hub.
func (h *Hub) subscribe(o *observer) {
	h.register <- o
}

// unsubscribe removes o from the hub and its job subscription.
func (h *Hub) unsubscribe(o *observer) {
	h.unregister <- o
}

// ConnectedCount returns the current number of connected observers.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

var _ stats.Sink = (*Hub)(nil)
