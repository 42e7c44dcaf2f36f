package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/types"
)

// Transition reports an actor lifecycle change the supervisor observed
// or performed. The daemon turns these into actor.start/stop/restart
// ledger events.
type Transition struct {
	GroupID string
	ActorID string
	Kind    types.EventKind
	Reason  string
}

// Config holds supervisor configuration.
type Config struct {
	Home            string
	TranscriptBytes int
	DrainTimeout    time.Duration // graceful stop window before SIGKILL
	PollInterval    time.Duration // headless liveness check cadence
	MissedPolls     int           // polls missed before a headless actor is offline
	OnTransition    func(Transition)
}

// Supervisor owns every actor session in the daemon.
type Supervisor struct {
	cfg Config

	mu      sync.RWMutex
	runners map[string]runner
	actors  map[string]*types.Actor

	stopCh chan struct{}
	doneCh chan struct{}
}

const (
	defaultDrainTimeout = 10 * time.Second
	defaultPollInterval = 30 * time.Second
	defaultMissedPolls  = 3
)

// NewSupervisor creates a supervisor; Run starts its liveness loop.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MissedPolls == 0 {
		cfg.MissedPolls = defaultMissedPolls
	}
	return &Supervisor{
		cfg:     cfg,
		runners: make(map[string]runner),
		actors:  make(map[string]*types.Actor),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func key(groupID, actorID string) string { return groupID + "/" + actorID }

func (s *Supervisor) pidFile(groupID, actorID string) string {
	return filepath.Join(s.cfg.Home, "groups", groupID, "state", actorID+".pid")
}

// Register makes an actor known to the supervisor without starting it.
// Any live pid left by a previous daemon is reaped first: PTY children
// die with their terminal, so a surviving pid is an orphan.
func (s *Supervisor) Register(actor *types.Actor, env []string, workDir string) {
	s.reapOrphan(actor.GroupID, actor.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(actor.GroupID, actor.ID)
	cp := *actor
	s.actors[k] = &cp
	switch actor.Runner {
	case types.RunnerHeadless:
		s.runners[k] = newHeadlessRunner(actor.ID)
	default:
		s.runners[k] = newPTYRunner(actor.GroupID, &cp, env, workDir,
			s.pidFile(actor.GroupID, actor.ID), s.cfg.TranscriptBytes,
			func(crashed bool, reason string) { s.exited(actor.GroupID, actor.ID, crashed, reason) })
	}
}

// Deregister forgets an actor, stopping it first if needed.
func (s *Supervisor) Deregister(ctx context.Context, groupID, actorID string) {
	k := key(groupID, actorID)
	s.mu.RLock()
	r := s.runners[k]
	s.mu.RUnlock()
	if r != nil && r.State() == StateRunning {
		r.Stop(ctx, s.cfg.DrainTimeout)
	}
	s.mu.Lock()
	delete(s.runners, k)
	delete(s.actors, k)
	s.mu.Unlock()
}

func (s *Supervisor) runner(groupID, actorID string) (runner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runners[key(groupID, actorID)]
	if !ok {
		return nil, types.E(types.ErrNoSuchActor, "no such actor: %s", actorID)
	}
	return r, nil
}

// Start launches an actor session and reports the transition.
func (s *Supervisor) Start(ctx context.Context, groupID, actorID string) error {
	r, err := s.runner(groupID, actorID)
	if err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	s.emit(Transition{GroupID: groupID, ActorID: actorID, Kind: types.KindActorStart})
	return nil
}

// Stop drains an actor session gracefully, then kills it.
func (s *Supervisor) Stop(ctx context.Context, groupID, actorID, reason string) error {
	r, err := s.runner(groupID, actorID)
	if err != nil {
		return err
	}
	if err := r.Stop(ctx, s.cfg.DrainTimeout); err != nil {
		return err
	}
	s.emit(Transition{GroupID: groupID, ActorID: actorID, Kind: types.KindActorStop, Reason: reason})
	return nil
}

// Restart is stop-then-start, reported as one actor.restart transition.
func (s *Supervisor) Restart(ctx context.Context, groupID, actorID string) error {
	r, err := s.runner(groupID, actorID)
	if err != nil {
		return err
	}
	if r.State() == StateRunning {
		if err := r.Stop(ctx, s.cfg.DrainTimeout); err != nil {
			return err
		}
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	s.emit(Transition{GroupID: groupID, ActorID: actorID, Kind: types.KindActorRestart})
	return nil
}

// Inject pushes rendered text into a running PTY actor.
func (s *Supervisor) Inject(groupID, actorID, text string) error {
	r, err := s.runner(groupID, actorID)
	if err != nil {
		return err
	}
	return r.Inject(text)
}

// State returns an actor session's lifecycle state.
func (s *Supervisor) State(groupID, actorID string) State {
	r, err := s.runner(groupID, actorID)
	if err != nil {
		return StateStopped
	}
	return r.State()
}

// LastOutputAt returns when an actor last produced output (or, for
// headless actors, last polled).
func (s *Supervisor) LastOutputAt(groupID, actorID string) time.Time {
	r, err := s.runner(groupID, actorID)
	if err != nil {
		return time.Time{}
	}
	return r.LastOutputAt()
}

// Transcript returns an actor's trailing terminal lines.
func (s *Supervisor) Transcript(groupID, actorID string, lines int, strip bool) ([]string, error) {
	r, err := s.runner(groupID, actorID)
	if err != nil {
		return nil, err
	}
	pr, ok := r.(*ptyRunner)
	if !ok {
		return nil, types.E(types.ErrInvalidPayload, "actor %s has no terminal", actorID)
	}
	return pr.transcript.Tail(lines, strip), nil
}

// MarkPoll records a headless actor's inbox poll.
func (s *Supervisor) MarkPoll(groupID, actorID string) {
	if r, err := s.runner(groupID, actorID); err == nil {
		if hr, ok := r.(*headlessRunner); ok {
			hr.markPoll()
		}
	}
}

// SetStatus sets a headless actor's advertised status.
func (s *Supervisor) SetStatus(groupID, actorID string, status types.HeadlessStatus) error {
	r, err := s.runner(groupID, actorID)
	if err != nil {
		return err
	}
	hr, ok := r.(*headlessRunner)
	if !ok {
		return types.E(types.ErrInvalidPayload, "actor %s is not headless", actorID)
	}
	hr.setStatus(status)
	return nil
}

// Status returns a headless actor's advertised status, or "" for PTY
// actors.
func (s *Supervisor) Status(groupID, actorID string) types.HeadlessStatus {
	r, err := s.runner(groupID, actorID)
	if err != nil {
		return ""
	}
	if hr, ok := r.(*headlessRunner); ok {
		return hr.currentStatus()
	}
	return ""
}

// Run drives the headless liveness loop until Shutdown.
func (s *Supervisor) Run() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	defer close(s.doneCh)
	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			for _, r := range s.runners {
				if hr, ok := r.(*headlessRunner); ok {
					hr.checkLiveness(s.cfg.PollInterval, s.cfg.MissedPolls)
				}
			}
			s.mu.RUnlock()
		case <-s.stopCh:
			return
		}
	}
}

// Shutdown stops the liveness loop and every running actor.
func (s *Supervisor) Shutdown(ctx context.Context) {
	close(s.stopCh)
	<-s.doneCh

	s.mu.RLock()
	keys := make([]string, 0, len(s.runners))
	for k := range s.runners {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, k := range keys {
		s.mu.RLock()
		r := s.runners[k]
		s.mu.RUnlock()
		if r == nil || r.State() != StateRunning {
			continue
		}
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			r.Stop(ctx, s.cfg.DrainTimeout)
		}(r)
	}
	wg.Wait()
}

// emit reports a transition to the daemon, if wired.
func (s *Supervisor) emit(t Transition) {
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(t)
	}
}

// exited handles a child exit observed by the reaper. A crash while
// running surfaces as an actor.stop transition with a reason.
func (s *Supervisor) exited(groupID, actorID string, crashed bool, reason string) {
	if !crashed {
		return
	}
	if reason == "" {
		reason = "crashed"
	}
	s.emit(Transition{GroupID: groupID, ActorID: actorID, Kind: types.KindActorStop, Reason: reason})
}

// reapOrphan kills any process left behind by a previous daemon run and
// clears the stale pid file.
func (s *Supervisor) reapOrphan(groupID, actorID string) {
	pidFile := s.pidFile(groupID, actorID)
	pid := readPidFile(pidFile)
	if pid == 0 {
		return
	}
	if pidAlive(pid) {
		lg := log.WithActorID(actorID)
		lg.Warn().Int("pid", pid).Msg("reaping orphaned actor process")
		syscall.Kill(-pid, syscall.SIGTERM)
		deadline := time.Now().Add(s.cfg.DrainTimeout)
		for pidAlive(pid) && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		if pidAlive(pid) {
			syscall.Kill(-pid, syscall.SIGKILL)
		}
	}
	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		lg := log.WithActorID(actorID)
		lg.Warn().Err(err).Msg("failed to remove stale pid file")
	}
}
