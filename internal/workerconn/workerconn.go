// Package workerconn is the load/monitor-client half of spec.md §4.4/§4.5:
// it dials the coordinator's control port, completes the handshake, and
// drives the resulting session's receive loop — routing Job-Request and
// Job-Control traffic into an internal/worker.Runtime, sending Job-Response,
// Job-Control-Response, and Job-Completed back, answering Status-Request,
// and reconnecting with backoff on any failure.
//
// Grounded on the teacher's agent/internal/connection.Manager: the same
// dial -> run-session -> on-error-backoff-and-retry outer loop
// (agent/internal/connection/manager.go's Run/connect/nextBackoff), adapted
// from a persistent gRPC stream to this repository's framed TLV session.
package workerconn

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/session"
	"github.com/loadfabric/loadfabric/internal/stats"
	"github.com/loadfabric/loadfabric/internal/statchan"
	"github.com/loadfabric/loadfabric/internal/worker"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.2

	// keepaliveIdleAfter is how long a READY connection must see no
	// outbound traffic before the driver sends an unsolicited Keepalive
	// (spec.md §4.4 step 4 "A timeout ... yields control to the dispatch
	// loop, which may emit Keepalive if idle and due").
	keepaliveIdleAfter = 15 * time.Second
)

// Config configures one worker connection's identity and behavior.
type Config struct {
	ControlAddr string
	StatAddr    string // empty disables the real-time stat channel

	ClientVersion     string
	ClientID          string
	Auth              *protocol.AuthCredentials
	RequestServerAuth bool
	RestrictedMode    bool
	SupportsTimeSync  bool

	HandshakeTimeout time.Duration

	Registry *worker.Registry
}

// Runner owns the reconnect loop for one worker identity.
type Runner struct {
	cfg Config
	log *zap.Logger
}

// New builds a Runner. log may be nil.
func New(cfg Config, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Runner{cfg: cfg, log: log.Named("workerconn")}
}

// Run dials, handshakes, and drives sessions against the coordinator until
// ctx is cancelled, reconnecting with exponential backoff + jitter after
// any failure (spec.md §4.4, grounded on the teacher's connection.Manager.Run).
func (r *Runner) Run(ctx context.Context) {
	backoff := backoffInitial
	for {
		if ctx.Err() != nil {
			return
		}

		if err := r.runOnce(ctx); err != nil {
			r.log.Warn("worker session ended, reconnecting",
				zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = backoffInitial
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	nc, err := net.DialTimeout("tcp", r.cfg.ControlAddr, r.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("workerconn: dial %s: %w", r.cfg.ControlAddr, err)
	}

	identity := session.Identity{
		Version:           r.cfg.ClientVersion,
		ID:                r.cfg.ClientID,
		Auth:              r.cfg.Auth,
		RequestServerAuth: r.cfg.RequestServerAuth,
		RestrictedMode:    r.cfg.RestrictedMode,
		SupportsTimeSync:  r.cfg.SupportsTimeSync,
	}
	sess, resp, err := session.DialWorker(ctx, nc, identity, r.cfg.HandshakeTimeout, r.log)
	if err != nil {
		_ = nc.Close()
		return fmt.Errorf("workerconn: handshake: %w", err)
	}
	if sess.State() != session.StateReady {
		_ = sess.Close()
		return fmt.Errorf("workerconn: handshake did not reach READY: %s: %s", resp.ResponseCode, resp.Message)
	}
	r.log.Info("connected to coordinator", zap.String("control_addr", r.cfg.ControlAddr))
	defer sess.Close()

	var statSink stats.Sink
	var statClient *statchan.Client
	if r.cfg.StatAddr != "" {
		statClient = statchan.Dial(r.cfg.StatAddr, r.cfg.ClientID, r.log)
		statSink = statClient
		defer statClient.Close()
	}
	reporter := stats.NewReporter(r.log)
	if statSink != nil {
		reporter.Subscribe(statSink)
	}

	clock := worker.NewSessionClock(sess)
	rt := worker.NewRuntime(clock, r.cfg.Registry, reporter, r.log)

	d := &driver{sess: sess, rt: rt, log: r.log, lastSend: time.Now()}
	return d.run(ctx)
}

// driver drives one already-handshaken session's request/response traffic
// against a worker.Runtime until the session leaves READY.
type driver struct {
	sess     *session.Session
	rt       *worker.Runtime
	log      *zap.Logger
	lastSend time.Time
}

func (d *driver) run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go d.watchCompletions(done)

	for {
		if ctx.Err() != nil {
			d.rt.StopAllDueToShutdown()
			return ctx.Err()
		}
		if d.sess.State() != session.StateReady {
			d.rt.StopAllDueToShutdown()
			return fmt.Errorf("workerconn: session left READY (state=%s)", d.sess.State())
		}

		rcv, ok, err := d.sess.ReadNext()
		if err != nil {
			if d.sess.ShouldDrain() {
				d.rt.StopAllDueToShutdown()
				_ = d.sess.Close()
			}
			return err
		}
		if !ok {
			d.maybeKeepalive()
			continue
		}

		d.handle(ctx, rcv)
	}
}

func (d *driver) handle(ctx context.Context, rcv session.Received) {
	switch m := rcv.Body.(type) {
	case protocol.JobRequest:
		resp := d.rt.HandleJobRequest(m)
		if err := d.sess.Reply(rcv.MessageID, resp); err != nil {
			d.log.Warn("send Job-Response failed", zap.Error(err))
			return
		}
		d.noteSend()

	case protocol.JobControlRequest:
		if m.Op == protocol.OpStopAndWait || m.Op == protocol.OpStopDueToShutdown {
			// These block until every worker task has observed the stop
			// signal (spec.md §4.5.1), so they run off the receive loop's
			// goroutine to avoid stalling other in-flight traffic.
			go func(messageID int64, req protocol.JobControlRequest) {
				resp := d.rt.HandleJobControl(ctx, req)
				if err := d.sess.Reply(messageID, resp); err != nil {
					d.log.Warn("send Job-Control-Response failed", zap.Error(err))
				}
			}(rcv.MessageID, m)
			return
		}
		resp := d.rt.HandleJobControl(ctx, m)
		if err := d.sess.Reply(rcv.MessageID, resp); err != nil {
			d.log.Warn("send Job-Control-Response failed", zap.Error(err))
			return
		}
		d.noteSend()

	case protocol.StatusRequest:
		d.handleStatus(rcv.MessageID, m)

	case protocol.ServerShutdown:
		d.log.Info("received Server-Shutdown, draining local jobs")
		d.rt.StopAllDueToShutdown()

	case protocol.Keepalive:
		// no-op: receiving one is enough to know the peer is alive

	case protocol.ClassTransferResponse:
		// Unsolicited here; class-transfer requests this worker initiates
		// (e.g. to fetch an unknown job class) are out of this driver's
		// scope per spec.md §1 Non-goal (a).

	default:
		d.log.Warn("unexpected message on control channel", zap.String("type", fmt.Sprintf("%T", m)))
	}
}

func (d *driver) handleStatus(messageID int64, req protocol.StatusRequest) {
	resp := protocol.StatusResponse{
		ResponseCode:  protocol.Success,
		ClientState:   d.sess.State().String(),
		ClientMessage: "ok",
	}
	if req.JobID != "" {
		if d.rt.IsCompleted(req.JobID) {
			s := protocol.CompletedSuccessfully
			resp.JobStatus = &s
		} else {
			for _, id := range d.rt.JobIDs() {
				if id == req.JobID {
					s := protocol.Running
					resp.JobStatus = &s
					break
				}
			}
			if resp.JobStatus == nil {
				resp.ResponseCode = protocol.NoSuchJob
			}
		}
	}
	if err := d.sess.Reply(messageID, resp); err != nil {
		d.log.Warn("send Status-Response failed", zap.Error(err))
		return
	}
	d.noteSend()
}

// watchCompletions sends Job-Completed as soon as the runtime reports a job
// finished all its worker tasks, then erases the worker-local record
// (spec.md §4.5.1 "On completion: ... send, then erase the record").
func (d *driver) watchCompletions(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case jobID := <-d.rt.Completed():
			completed, ok := d.rt.Completion(jobID)
			if !ok {
				continue
			}
			if _, err := d.sess.Send(completed); err != nil {
				d.log.Warn("send Job-Completed failed", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			d.noteSend()
			d.rt.Remove(jobID)
		}
	}
}

func (d *driver) noteSend() {
	d.lastSend = time.Now()
}

func (d *driver) maybeKeepalive() {
	if time.Since(d.lastSend) < keepaliveIdleAfter {
		return
	}
	if _, err := d.sess.Send(protocol.Keepalive{}); err != nil {
		d.log.Warn("send Keepalive failed", zap.Error(err))
		return
	}
	d.noteSend()
}

func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}
