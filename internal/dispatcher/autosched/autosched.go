// Package autosched optionally re-submits a job class to the dispatcher on
// a cron schedule, independent of any one-off RunJob call a coordinator
// operator issues directly. Grounded on the teacher's
// server/internal/scheduler.Scheduler (gocron wrapper, singleton-mode job
// registration keyed by an ID, graceful Stop), generalized from "one gocron
// job per backup policy dispatched via a DB-backed agent manager" to "one
// gocron job per recurring load/monitor job spec dispatched via
// dispatcher.Dispatcher" — this package has no persistence of its own;
// JobID uniqueness and job-class semantics are entirely the dispatcher's.
package autosched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/dispatcher"
	"github.com/loadfabric/loadfabric/internal/resultstore"
)

// SpecBuilder produces a fresh dispatcher.JobSpec for each tick — fresh so
// the JobID (and any time-derived fields like StartMillis/StopMillis) is
// unique per run, the way the teacher's addJob re-fetches destinations at
// tick time rather than closing over a stale snapshot.
type SpecBuilder func() dispatcher.JobSpec

// Scheduler wraps gocron to fire dispatcher.Dispatcher.RunJob on a cron
// schedule, one gocron job per registered schedule name.
type Scheduler struct {
	cron   gocron.Scheduler
	disp   *dispatcher.Dispatcher
	store  resultstore.Store
	log    *zap.Logger
	jobCtx context.Context

	mu   sync.Mutex
	last map[string]error // schedule name -> most recent run's error, for introspection
}

// New builds a Scheduler bound to disp. jobCtx bounds every dispatched
// RunJob call's lifetime (typically context.Background with its own
// per-call timeout layered on by the caller). store persists each
// successful run's summary; pass resultstore.NoopStore{} to skip history
// (spec.md Non-goal (b): persistence is an external, optional concern).
func New(jobCtx context.Context, disp *dispatcher.Dispatcher, store resultstore.Store, log *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("autosched: create gocron scheduler: %w", err)
	}
	if store == nil {
		store = resultstore.NoopStore{}
	}
	return &Scheduler{
		cron:   cron,
		disp:   disp,
		store:  store,
		log:    log.Named("autosched"),
		jobCtx: jobCtx,
		last:   make(map[string]error),
	}, nil
}

// AddSchedule registers build to run on cronExpr, in singleton mode so an
// overrunning job never overlaps its own next tick (mirrors the teacher's
// gocron.WithSingletonMode(gocron.LimitModeReschedule)).
func (s *Scheduler) AddSchedule(name, cronExpr string, build SpecBuilder) error {
	_, err := s.cron.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			spec := build()
			ctx, cancel := context.WithTimeout(s.jobCtx, 5*time.Minute)
			defer cancel()

			result, err := s.disp.RunJob(ctx, spec)
			s.mu.Lock()
			s.last[name] = err
			s.mu.Unlock()

			if err != nil {
				s.log.Error("scheduled job failed to start", zap.String("schedule", name), zap.String("job_id", spec.JobID), zap.Error(err))
				return
			}
			s.log.Info("scheduled job completed",
				zap.String("schedule", name), zap.String("job_id", spec.JobID), zap.String("state", result.State.String()))

			rec := resultstore.Record{
				JobID:          result.JobID,
				JobClass:       spec.JobClass,
				JobState:       result.State.String(),
				StartedAt:      time.UnixMilli(spec.StartMillis),
				CompletedAt:    time.Now(),
				MissingWorkers: result.Missing,
				TrackerSummary: fmt.Sprintf("%d tracker(s), %d missing worker(s)", len(result.Workers), len(result.Missing)),
			}
			if err := s.store.SaveJobResult(ctx, rec); err != nil {
				s.log.Warn("failed to persist scheduled job result", zap.String("schedule", name), zap.String("job_id", spec.JobID), zap.Error(err))
			}
		}),
		gocron.WithName(name),
		gocron.WithTags(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("autosched: register schedule %q (cron %q): %w", name, cronExpr, err)
	}
	return nil
}

// RemoveSchedule unregisters a previously added schedule by name.
func (s *Scheduler) RemoveSchedule(name string) {
	s.cron.RemoveByTags(name)
}

// LastError returns the error (nil on success) from the most recent tick of
// the named schedule, or (nil, false) if it has not fired yet.
func (s *Scheduler) LastError(name string) (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.last[name]
	return err, ok
}

// Start begins firing registered schedules.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for any in-flight tick to finish, then shuts down.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("autosched: shutdown: %w", err)
	}
	return nil
}
