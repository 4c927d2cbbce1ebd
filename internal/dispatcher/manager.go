// Package dispatcher implements the coordinator side of a worker connection
// (spec.md §4.6): accepting handshakes, the deterministic worker-selection
// policy, the start barrier, Job-Control issuance, and completion
// aggregation. Grounded on the teacher's server/internal/agentmanager
// (in-memory connected-agent registry keyed by ID, replace-on-reconnect
// semantics) and server/internal/scheduler (tick/dispatch/await-completion
// shape), generalized from "one backup job per agent, sequential" to
// "N concurrent jobs, each fanning out across many workers at once".
package dispatcher

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/classxfer"
	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/session"
)

// WorkerConn is one connected worker's session plus the routing state the
// dispatcher needs to correlate replies with the job that provoked them.
// Mirrors the teacher's ConnectedAgent (ID, identity metadata, a handle used
// to push messages), generalized from a one-directional gRPC push stream to
// a full request/response session with a dedicated receive loop.
type WorkerConn struct {
	ID          string
	Session     *session.Session
	Hello       protocol.ClientHello
	ConnectedAt time.Time

	mu       sync.Mutex
	waiters  map[string]chan protocol.Message // keyed by jobID
	classDir string                           // non-empty enables serving Class-Transfer-Request from this worker
	log      *zap.Logger
}

func newWorkerConn(id string, s *session.Session, hello protocol.ClientHello, classDir string, log *zap.Logger) *WorkerConn {
	return &WorkerConn{
		ID:          id,
		Session:     s,
		Hello:       hello,
		ConnectedAt: time.Now(),
		waiters:     make(map[string]chan protocol.Message),
		classDir:    classDir,
		log:         log,
	}
}

// expect registers interest in the next message concerning jobID and
// returns the channel the receive loop will deliver it on. Only one waiter
// per jobID may be registered at a time — spec.md §3's "a worker may hold
// at most one record per jobID" means the dispatcher never has two
// in-flight requests for the same job on the same connection.
func (w *WorkerConn) expect(jobID string) <-chan protocol.Message {
	ch := make(chan protocol.Message, 1)
	w.mu.Lock()
	w.waiters[jobID] = ch
	w.mu.Unlock()
	return ch
}

func (w *WorkerConn) cancelExpect(jobID string) {
	w.mu.Lock()
	delete(w.waiters, jobID)
	w.mu.Unlock()
}

// runReceiveLoop demuxes inbound messages by jobID to registered waiters
// until the session leaves READY. It is started once per connection by
// Manager.Register and is the coordinator-side mirror of a worker's own
// ReadNext loop (internal/session).
func (w *WorkerConn) runReceiveLoop() {
	for w.Session.State() == session.StateReady {
		rcv, ok, err := w.Session.ReadNext()
		if err != nil {
			w.log.Warn("worker connection read failed", zap.String("worker_id", w.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue // read timeout, not an error; loop back and check state
		}

		if req, ok := rcv.Body.(protocol.ClassTransferRequest); ok {
			w.serveClassTransfer(rcv.MessageID, req)
			continue
		}

		jobID, deliverable := jobIDOf(rcv.Body)
		if !deliverable {
			continue // Keepalive and other non-job traffic need no routing
		}

		w.mu.Lock()
		ch, found := w.waiters[jobID]
		if found {
			delete(w.waiters, jobID)
		}
		w.mu.Unlock()

		if found {
			ch <- rcv.Body
		}
	}
}

// serveClassTransfer answers a worker's request for a job-class payload it
// doesn't have locally yet (spec.md §6 Class-Transfer), reading from this
// worker connection's configured class directory. A connection with no
// class directory configured (classDir == "") answers LocalError rather
// than hanging the worker's wait loop.
func (w *WorkerConn) serveClassTransfer(messageID int64, req protocol.ClassTransferRequest) {
	if w.classDir == "" {
		_ = w.Session.Reply(messageID, protocol.ClassTransferResponse{
			ClassName:    req.ClassName,
			ResponseCode: protocol.LocalError,
		})
		return
	}
	if err := classxfer.Serve(w.Session, messageID, w.classDir, req); err != nil {
		w.log.Warn("class-transfer serve failed", zap.String("worker_id", w.ID), zap.String("class", req.ClassName), zap.Error(err))
	}
}

func jobIDOf(m protocol.Message) (string, bool) {
	switch v := m.(type) {
	case protocol.JobResponse:
		return v.JobID, true
	case protocol.JobControlResponse:
		return v.JobID, true
	case protocol.JobCompleted:
		return v.JobID, true
	default:
		return "", false
	}
}

// Manager is the in-memory registry of currently connected workers, safe for
// concurrent use by the accept loop and the dispatch logic running in
// separate goroutines (spec.md §4.6 "Accepts control connections
// concurrently").
type Manager struct {
	mu       sync.RWMutex
	workers  map[string]*WorkerConn
	classDir string // propagated to every registered WorkerConn; see Manager.WithClassDir
	log      *zap.Logger
}

// NewManager builds an empty Manager.
func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		workers: make(map[string]*WorkerConn),
		log:     log.Named("dispatcher"),
	}
}

// WithClassDir configures the local directory this coordinator serves
// Class-Transfer-Request payloads from for every subsequently registered
// worker connection (spec.md §6 Class-Transfer). An empty dir (the
// default) answers every request with LocalError.
func (m *Manager) WithClassDir(dir string) *Manager {
	m.mu.Lock()
	m.classDir = dir
	m.mu.Unlock()
	return m
}

// Register adds a freshly handshaken worker connection and starts its
// receive loop. A second registration under the same ClientID replaces the
// first, logging a warning, mirroring the teacher's agentmanager.Register
// "replacing existing agent connection" reconnect-race handling.
func (m *Manager) Register(s *session.Session, hello protocol.ClientHello) *WorkerConn {
	m.mu.RLock()
	classDir := m.classDir
	m.mu.RUnlock()

	wc := newWorkerConn(hello.ClientID, s, hello, classDir, m.log)

	m.mu.Lock()
	if _, exists := m.workers[wc.ID]; exists {
		m.log.Warn("replacing existing worker connection", zap.String("worker_id", wc.ID))
	}
	m.workers[wc.ID] = wc
	m.mu.Unlock()

	go wc.runReceiveLoop()

	m.log.Info("worker connected",
		zap.String("worker_id", wc.ID),
		zap.String("version", hello.ClientVersion),
		zap.Bool("restricted_mode", hello.RestrictedMode))
	return wc
}

// Deregister removes a worker connection, e.g. after its session closes.
func (m *Manager) Deregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wc, exists := m.workers[id]; exists {
		delete(m.workers, id)
		m.log.Info("worker disconnected",
			zap.String("worker_id", id),
			zap.Duration("session_duration", time.Since(wc.ConnectedAt)))
	}
}

// Connected returns a snapshot of every currently registered worker.
func (m *Manager) Connected() []*WorkerConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WorkerConn, 0, len(m.workers))
	for _, wc := range m.workers {
		out = append(out, wc)
	}
	return out
}

// Get looks up a worker connection by ID.
func (m *Manager) Get(id string) (*WorkerConn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wc, ok := m.workers[id]
	if !ok {
		return nil, fmt.Errorf("dispatcher: worker %q is not connected", id)
	}
	return wc, nil
}
