package automation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/types"
)

// CommitFunc appends an event and folds it into the projection, same
// contract as the delivery engine's.
type CommitFunc func(groupID string, kind types.EventKind, by string, data json.RawMessage) (*types.Event, error)

// ActorControlFunc performs a lifecycle operation on one actor; the
// daemon backs it with the supervisor.
type ActorControlFunc func(ctx context.Context, groupID, actorID string, op types.ActorControlOp) error

// Config wires the scheduler to the rest of the daemon.
type Config struct {
	Projection   *kernel.Projection
	Commit       CommitFunc
	ActorControl ActorControlFunc
	Tick         time.Duration // defaults to 1s
}

// ruleState is the scheduler's memory of one rule between ticks.
type ruleState struct {
	version   int
	lastFired time.Time
	prev      time.Time // cron anchor
	schedule  cron.Schedule
	fired     bool // at rules fire once
}

// Scheduler evaluates user-defined automation rules at 1 Hz. Rules fire
// in id order; one-shot at rules disable themselves after firing.
type Scheduler struct {
	cfg Config

	mu    sync.Mutex
	rules map[string]*ruleState // groupID|ruleID

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Tick == 0 {
		cfg.Tick = time.Second
	}
	return &Scheduler{
		cfg:    cfg,
		rules:  make(map[string]*ruleState),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run drives the scheduler until Stop.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	defer close(s.doneCh)
	for {
		select {
		case now := <-ticker.C:
			s.Tick(now)
		case <-s.stopCh:
			return
		}
	}
}

// Stop halts the Run loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Update replaces a group's ruleset with compare-and-set semantics: the
// caller states the version it read, and a mismatch fails without side
// effects.
func (s *Scheduler) Update(groupID, by string, rules []types.Rule, expectedVersion int) (*types.Ruleset, error) {
	current := s.cfg.Projection.Ruleset(groupID)
	if current.Version != expectedVersion {
		return nil, types.E(types.ErrVersionConflict,
			"ruleset version is %d, expected %d", current.Version, expectedVersion).
			WithDetail("group_id", groupID)
	}
	next := types.Ruleset{Version: current.Version + 1, Rules: rules}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return nil, types.E(types.ErrInternal, "failed to encode ruleset: %v", err)
	}
	if _, err := s.cfg.Commit(groupID, types.KindGroupAutomationUpdate, by, data); err != nil {
		return nil, err
	}
	return &next, nil
}

// Reset clears a group's ruleset, bumping the version.
func (s *Scheduler) Reset(groupID, by string) (*types.Ruleset, error) {
	current := s.cfg.Projection.Ruleset(groupID)
	return s.Update(groupID, by, nil, current.Version)
}

// Tick evaluates every enabled rule across all groups.
func (s *Scheduler) Tick(now time.Time) {
	for _, g := range s.cfg.Projection.Groups() {
		if g.State == types.GroupStopped {
			continue
		}
		s.tickGroup(g.ID, now)
	}
}

func (s *Scheduler) tickGroup(groupID string, now time.Time) {
	rs := s.cfg.Projection.Ruleset(groupID)
	rules := append([]types.Rule(nil), rs.Rules...)
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	var disable []string
	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		if s.due(groupID, r, rs.Version, now) {
			s.fire(groupID, r)
			if r.Trigger.Kind == types.TriggerAt {
				disable = append(disable, r.ID)
			}
		}
	}

	if len(disable) > 0 {
		s.autoDisable(groupID, rs, disable)
	}
}

// due decides whether a rule fires this tick, updating its state.
func (s *Scheduler) due(groupID string, r *types.Rule, version int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := groupID + "|" + r.ID
	st := s.rules[key]
	if st == nil || st.version != version {
		st = &ruleState{version: version, prev: now}
		if r.Trigger.Kind == types.TriggerCron {
			sched, err := cron.ParseStandard(r.Trigger.Cron)
			if err != nil {
				log.WithGroupID(groupID).Warn().
					Str("rule_id", r.ID).
					Err(err).
					Msg("invalid cron expression")
				return false
			}
			st.schedule = sched
		}
		s.rules[key] = st
	}

	switch r.Trigger.Kind {
	case types.TriggerEverySeconds:
		interval := time.Duration(r.Trigger.Seconds) * time.Second
		anchor := st.lastFired
		if anchor.IsZero() {
			anchor = st.prev
		}
		if now.Sub(anchor) >= interval {
			st.lastFired = now
			return true
		}
	case types.TriggerCron:
		if st.schedule == nil {
			return false
		}
		if next := st.schedule.Next(st.prev); !next.After(now) {
			st.prev = now
			st.lastFired = now
			return true
		}
	case types.TriggerAt:
		if !st.fired && !now.Before(r.Trigger.At) {
			st.fired = true
			st.lastFired = now
			return true
		}
	}
	return false
}

// fire performs a rule's action.
func (s *Scheduler) fire(groupID string, r *types.Rule) {
	lg := log.WithGroupID(groupID)
	switch r.Action.Kind {
	case types.ActionNotify:
		data, err := json.Marshal(types.ChatMessage{
			Text: r.Action.Text,
			To:   r.Action.Recipients,
		})
		if err != nil {
			return
		}
		if _, err := s.cfg.Commit(groupID, types.KindChatMessage, types.ByAutomation, data); err != nil {
			lg.Warn().Str("rule_id", r.ID).Err(err).Msg("rule notify failed")
		}
	case types.ActionGroupState:
		data, err := json.Marshal(types.GroupSetStateData{State: r.Action.State})
		if err != nil {
			return
		}
		if _, err := s.cfg.Commit(groupID, types.KindGroupSetState, types.ByAutomation, data); err != nil {
			lg.Warn().Str("rule_id", r.ID).Err(err).Msg("rule group_state failed")
		}
	case types.ActionActorControl:
		for _, actorID := range r.Action.ActorIDs {
			if err := s.cfg.ActorControl(context.Background(), groupID, actorID, r.Action.Op); err != nil {
				lg.Warn().
					Str("rule_id", r.ID).
					Str("actor_id", actorID).
					Err(err).
					Msg("rule actor_control failed")
			}
		}
	}
}

// autoDisable persists the disabling of fired at rules by committing an
// updated ruleset.
func (s *Scheduler) autoDisable(groupID string, rs types.Ruleset, ids []string) {
	disabled := make(map[string]bool, len(ids))
	for _, id := range ids {
		disabled[id] = true
	}
	next := types.Ruleset{Version: rs.Version + 1, Rules: append([]types.Rule(nil), rs.Rules...)}
	for i := range next.Rules {
		if disabled[next.Rules[i].ID] {
			next.Rules[i].Enabled = false
		}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return
	}
	if _, err := s.cfg.Commit(groupID, types.KindGroupAutomationUpdate, types.ByDaemon, data); err != nil {
		log.WithGroupID(groupID).Warn().Err(err).Msg("failed to auto-disable fired rules")
	}
}
