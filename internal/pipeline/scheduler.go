package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"axle-sync-backend/config"
	"axle-sync-backend/internal/events"
)

// State is where a scheduler is in its cycle.
type State string

const (
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
)

// Passer runs one upload pass.
type Passer interface {
	RunPass(ctx context.Context) PassResult
}

// Status is a snapshot of a scheduler.
type Status struct {
	Integration string      `json:"integration"`
	State       State       `json:"state"`
	Enabled     bool        `json:"enabled"`
	NextRunAt   *time.Time  `json:"nextRunAt,omitempty"`
	LastPass    *PassResult `json:"lastPass,omitempty"`
}

// Scheduler re-arms a timer that runs upload passes of one integration while
// it is enabled. The delay is read from the settings each time the timer is
// armed.
type Scheduler struct {
	name     string
	passer   Passer
	settings func() config.IntegrationConfig
	sink     events.Sink
	logger   *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	enabled  bool
	running  bool
	stopped  bool
	timer    *time.Timer
	timerGen uint64 // bumped whenever a timer is armed or disarmed
	nextRun  time.Time
	lastPass *PassResult
	wg       sync.WaitGroup
}

func NewScheduler(name string, passer Passer, settings func() config.IntegrationConfig, sink events.Sink, logger *slog.Logger) *Scheduler {
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		name:     name,
		passer:   passer,
		settings: settings,
		sink:     sink,
		logger:   logger.With("integration", name, "component", "scheduler"),
		ctx:      context.Background(),
	}
}

// Start runs a pass right away when the integration is enabled. Passes use
// ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.SetEnabled(s.settings().Enabled)
}

// OnConfigChange follows the enabled flag of the integration.
func (s *Scheduler) OnConfigChange(_, next config.Config) {
	ic, ok := next.Integrations[s.name]
	if !ok {
		return
	}
	s.SetEnabled(ic.Enabled)
}

// SetEnabled arms or disarms the scheduler. Enabling runs a pass immediately.
// Disabling cancels the pending timer but lets an in-flight pass finish.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.stopped || s.enabled == enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = enabled
	if !enabled {
		s.disarm()
		s.mu.Unlock()
		s.logger.Info("Auto upload disabled")
		s.sink.Log(events.LevelInfo, "auto upload disabled")
		return
	}
	s.mu.Unlock()

	s.logger.Info("Auto upload enabled")
	s.sink.Log(events.LevelInfo, "auto upload enabled")
	go s.run(0)
}

// Stop disarms the scheduler for good and waits for an in-flight pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.enabled = false
	s.disarm()
	s.mu.Unlock()
	s.wg.Wait()
}

// Status reports the current state and the last pass.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Integration: s.name, State: s.state(), Enabled: s.enabled}
	if s.timer != nil {
		next := s.nextRun
		st.NextRunAt = &next
	}
	if s.lastPass != nil {
		last := *s.lastPass
		st.LastPass = &last
	}
	return st
}

func (s *Scheduler) state() State {
	switch {
	case s.running:
		return StateRunning
	case s.timer != nil:
		return StateScheduled
	default:
		return StateIdle
	}
}

// run starts a pass. gen is the generation of the timer that fired, or 0 for
// a direct start; a timer that was disarmed or replaced after firing is
// ignored.
func (s *Scheduler) run(gen uint64) {
	s.mu.Lock()
	if s.stopped || s.running || !s.enabled || (gen != 0 && gen != s.timerGen) {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.disarm()
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()
	defer s.wg.Done()

	res := s.safePass(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastPass = &res
	if !s.enabled || s.stopped {
		return
	}
	delay := s.settings().Interval()
	if delay <= 0 {
		delay = time.Second
	}
	s.nextRun = time.Now().Add(delay)
	s.timerGen++
	gen = s.timerGen
	s.timer = time.AfterFunc(delay, func() { s.run(gen) })
}

// safePass keeps the timer alive even if a pass panics outside its
// per-record guard.
func (s *Scheduler) safePass(ctx context.Context) (res PassResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Upload pass panicked", "panic", r)
			s.sink.Log(events.LevelError, "upload pass crashed")
			res.FinishedAt = time.Now()
		}
	}()
	return s.passer.RunPass(ctx)
}

// disarm must be called with mu held.
func (s *Scheduler) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
	s.nextRun = time.Time{}
}
