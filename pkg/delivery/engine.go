package delivery

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/metrics"
	"github.com/cccc-dev/cccc/pkg/runner"
	"github.com/cccc-dev/cccc/pkg/types"
)

// CommitFunc appends an event to the ledger and folds it into the
// projection before returning. The daemon provides it so engine-emitted
// events (auto-mark reads, nudges) follow the same path as any other
// mutation.
type CommitFunc func(groupID string, kind types.EventKind, by string, data json.RawMessage) (*types.Event, error)

// ActorRunner is the slice of the supervisor the engine needs.
// *runner.Supervisor implements it.
type ActorRunner interface {
	State(groupID, actorID string) runner.State
	Start(ctx context.Context, groupID, actorID string) error
	Inject(groupID, actorID, text string) error
	LastOutputAt(groupID, actorID string) time.Time
}

// Config wires the engine to the rest of the daemon.
type Config struct {
	Projection *kernel.Projection
	Supervisor ActorRunner
	Commit     CommitFunc
	Tick       time.Duration // defaults to 1s
}

// queuedItem is one chat event waiting to be injected into an actor.
type queuedItem struct {
	eventID string
	item    runner.InjectionItem
}

// groupDelivery is the engine's per-group working state. Everything
// here is derived or advisory; losing it costs at most a duplicate
// nudge, never a lost message, because queues are rebuilt from the
// ledger-backed inbox on demand.
type groupDelivery struct {
	queues        map[string][]queuedItem
	lastInjection map[string]time.Time
	lastDigest    map[string]time.Time
	repeats       map[string]int // recipient|reason → windows fired
	keepalives    map[string]int
	lastInbound   map[string]time.Time
	helpBase      map[string]int
	lastHelpAt    map[string]time.Time
}

func newGroupDelivery() *groupDelivery {
	return &groupDelivery{
		queues:        make(map[string][]queuedItem),
		lastInjection: make(map[string]time.Time),
		lastDigest:    make(map[string]time.Time),
		repeats:       make(map[string]int),
		keepalives:    make(map[string]int),
		lastInbound:   make(map[string]time.Time),
		helpBase:      make(map[string]int),
		lastHelpAt:    make(map[string]time.Time),
	}
}

// Engine fans committed chat events out to actors and runs the built-in
// nudge policies. It consumes commits via HandleEvent and time via
// Tick; the daemon drives both.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	groups map[string]*groupDelivery

	stopCh chan struct{}
	doneCh chan struct{}
	evCh   chan *types.Event
}

// New creates a delivery engine.
func New(cfg Config) *Engine {
	if cfg.Tick == 0 {
		cfg.Tick = time.Second
	}
	return &Engine{
		cfg:    cfg,
		groups: make(map[string]*groupDelivery),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		evCh:   make(chan *types.Event, 256),
	}
}

// Run drives the engine until Stop: committed events interleaved with a
// heartbeat tick.
func (e *Engine) Run() {
	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()
	defer close(e.doneCh)
	for {
		select {
		case ev := <-e.evCh:
			e.HandleEvent(ev)
		case now := <-ticker.C:
			e.Tick(now)
		case <-e.stopCh:
			return
		}
	}
}

// Stop halts the Run loop.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// Enqueue hands a committed event to the Run loop.
func (e *Engine) Enqueue(ev *types.Event) {
	select {
	case e.evCh <- ev:
	default:
		// The tick rebuilds pending work from projections, so a full
		// channel only delays fan-out by one tick.
		lg := log.WithGroupID(ev.GroupID)
		lg.Warn().Msg("delivery event channel full")
	}
}

func (e *Engine) group(groupID string) *groupDelivery {
	gd := e.groups[groupID]
	if gd == nil {
		gd = newGroupDelivery()
		e.groups[groupID] = gd
	}
	return gd
}

// HandleEvent folds one committed event into delivery state. Chat
// messages are queued for their PTY recipients; everything else only
// updates bookkeeping.
func (e *Engine) HandleEvent(ev *types.Event) {
	if ev.Kind != types.KindChatMessage {
		return
	}
	var m types.ChatMessage
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		return
	}

	recipients, unknown := e.cfg.Projection.ResolveRecipients(ev.GroupID, &m, ev.By)
	if len(unknown) > 0 {
		e.notifyUnknownRecipients(ev, unknown)
	}

	item := runner.InjectionItem{
		EventID:  ev.ID,
		From:     ev.By,
		ReplyTo:  m.ReplyTo,
		Priority: m.Priority,
		Text:     m.Text,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	gd := e.group(ev.GroupID)
	for _, r := range recipients {
		if r == types.AddrUser {
			continue
		}
		actor := e.cfg.Projection.Actor(ev.GroupID, r)
		if actor == nil {
			continue
		}
		gd.lastInbound[r] = ev.TS
		gd.keepalives[r] = 0
		if actor.Runner != types.RunnerPTY {
			// Headless actors poll their inbox.
			continue
		}
		gd.queues[r] = append(gd.queues[r], queuedItem{eventID: ev.ID, item: item})
	}
}

// notifyUnknownRecipients records a delivery note for the sender; the
// original commit stands.
func (e *Engine) notifyUnknownRecipients(ev *types.Event, unknown []string) {
	data, err := json.Marshal(types.SystemNotify{
		Reasons:  []string{types.ReasonDelivery},
		Target:   ev.By,
		Text:     "unknown recipient: " + strings.Join(unknown, ", "),
		EventIDs: []string{ev.ID},
	})
	if err != nil {
		return
	}
	if _, err := e.cfg.Commit(ev.GroupID, types.KindSystemNotify, types.ByDaemon, data); err != nil {
		lg := log.WithGroupID(ev.GroupID)
		lg.Warn().Err(err).Msg("failed to record unknown recipient note")
	}
}

// Tick advances time-driven work: queue drains first so backlogs clear
// in commit order, then the built-in nudge policies.
func (e *Engine) Tick(now time.Time) {
	for _, g := range e.cfg.Projection.Groups() {
		e.drainGroup(g, now)
		e.runNudges(g, now)
	}
}

// drainGroup attempts injection for every queued actor in one group.
func (e *Engine) drainGroup(g *types.Group, now time.Time) {
	if g.State == types.GroupPaused || g.State == types.GroupStopped {
		// Commits proceed while paused; fan-out resumes on state change.
		return
	}

	e.mu.Lock()
	gd := e.group(g.ID)
	actorIDs := make([]string, 0, len(gd.queues))
	for id, q := range gd.queues {
		if len(q) > 0 {
			actorIDs = append(actorIDs, id)
		}
	}
	e.mu.Unlock()

	for _, actorID := range actorIDs {
		e.drainActor(g, gd, actorID, now)
	}
}

func (e *Engine) drainActor(g *types.Group, gd *groupDelivery, actorID string, now time.Time) {
	actor := e.cfg.Projection.Actor(g.ID, actorID)
	if actor == nil || !actor.Enabled {
		e.mu.Lock()
		delete(gd.queues, actorID)
		e.mu.Unlock()
		return
	}

	// Auto-wake: an enabled recipient that is merely stopped is
	// started. Crashed actors stay down until explicitly restarted.
	switch e.cfg.Supervisor.State(g.ID, actorID) {
	case runner.StateStopped:
		if err := e.cfg.Supervisor.Start(context.Background(), g.ID, actorID); err != nil {
			lg := log.WithActorID(actorID)
			lg.Warn().Err(err).Msg("auto-wake failed")
			return
		}
	case runner.StateRunning:
	default:
		return
	}

	// Per-group minimum delivery interval; queued events coalesce into
	// one digest on release.
	minInterval := time.Duration(g.Settings.MinIntervalSeconds) * time.Second
	e.mu.Lock()
	if last, ok := gd.lastInjection[actorID]; ok && minInterval > 0 && now.Sub(last) < minInterval {
		e.mu.Unlock()
		return
	}
	queue := gd.queues[actorID]
	gd.queues[actorID] = nil
	e.mu.Unlock()
	if len(queue) == 0 {
		return
	}

	items := make([]runner.InjectionItem, len(queue))
	maxID := ""
	for i, q := range queue {
		items[i] = q.item
		if q.eventID > maxID {
			maxID = q.eventID
		}
	}

	if err := e.cfg.Supervisor.Inject(g.ID, actorID, runner.RenderInjection(items)); err != nil {
		// Requeue at the front; the commit is unaffected and the next
		// tick retries.
		e.mu.Lock()
		gd.queues[actorID] = append(queue, gd.queues[actorID]...)
		e.mu.Unlock()
		lg := log.WithActorID(actorID)
		lg.Warn().Err(err).Msg("injection failed")
		return
	}

	metrics.IncInjection()
	e.mu.Lock()
	gd.lastInjection[actorID] = now
	e.mu.Unlock()

	if g.Settings.AutoMarkOnDelivery {
		data, _ := json.Marshal(types.ChatRead{Principal: actorID, UpTo: maxID})
		if _, err := e.cfg.Commit(g.ID, types.KindChatRead, actorID, data); err != nil {
			lg := log.WithActorID(actorID)
			lg.Warn().Err(err).Msg("auto-mark failed")
		}
	}
}
