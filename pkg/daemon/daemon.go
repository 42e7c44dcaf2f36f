package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cccc-dev/cccc/pkg/automation"
	"github.com/cccc-dev/cccc/pkg/delivery"
	"github.com/cccc-dev/cccc/pkg/events"
	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/ledger"
	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/metrics"
	"github.com/cccc-dev/cccc/pkg/runner"
	"github.com/cccc-dev/cccc/pkg/types"
)

// Config holds daemon configuration. Zero values take the standard home
// layout.
type Config struct {
	Home       string // default ~/.cccc
	SocketPath string // default <home>/daemon/socket
	TCPAddr    string // optional loopback listener
	Global     types.GlobalConfig
}

// DefaultHome returns the standard runtime home.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cccc"
	}
	return filepath.Join(home, ".cccc")
}

// Daemon owns the whole runtime: ledger store, projection, supervisor,
// delivery engine, automation scheduler, broker, and IPC server. All
// mutations flow through commit so every component observes the same
// event order.
type Daemon struct {
	cfg Config

	registry *Registry
	broker   *events.Broker
	store    *ledger.Store
	proj     *kernel.Projection
	sup      *runner.Supervisor
	eng      *delivery.Engine
	sch      *automation.Scheduler
	srv      *ipc.Server

	gmu        sync.Mutex
	groupLocks map[string]*sync.Mutex

	bmu      sync.Mutex
	bindKeys map[string]types.BindKey

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New assembles a daemon; Start brings it up.
func New(cfg Config) (*Daemon, error) {
	if cfg.Home == "" {
		cfg.Home = DefaultHome()
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.Home, "daemon", "socket")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Home, "daemon"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create daemon home: %w", err)
	}

	registry, err := LoadRegistry(cfg.Home)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:        cfg,
		registry:   registry,
		broker:     events.NewBroker(),
		proj:       kernel.NewProjection(),
		groupLocks: make(map[string]*sync.Mutex),
		bindKeys:   make(map[string]types.BindKey),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	d.store, err = ledger.NewStore(ledger.Config{
		Home:       cfg.Home,
		Broker:     d.broker,
		FsyncEvery: 2 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	transcriptBytes := cfg.Global.TranscriptPerActorBytes
	d.sup = runner.NewSupervisor(runner.Config{
		Home:            cfg.Home,
		TranscriptBytes: transcriptBytes,
		OnTransition:    d.onTransition,
	})

	d.eng = delivery.New(delivery.Config{
		Projection: d.proj,
		Supervisor: d.sup,
		Commit:     d.commitRaw,
	})

	d.sch = automation.New(automation.Config{
		Projection:   d.proj,
		Commit:       d.commitRaw,
		ActorControl: d.actorControl,
	})

	d.srv = ipc.NewServer(ipc.Config{
		SocketPath: cfg.SocketPath,
		TCPAddr:    cfg.TCPAddr,
		AuthToken:  cfg.Global.AuthToken,
		Handler:    d,
		Broker:     d.broker,
		Replay:     d.replay,
	})
	return d, nil
}

// Start recovers every group, registers actors, and opens the port.
func (d *Daemon) Start() error {
	d.broker.Start()

	if err := d.writePidFile(); err != nil {
		return err
	}
	if err := d.recoverGroups(); err != nil {
		return err
	}

	if err := d.srv.Start(); err != nil {
		return err
	}
	if d.cfg.Global.DeveloperMode {
		addr, err := metrics.Serve("127.0.0.1:0", d.stopCh)
		lg := log.WithComponent("daemon")
		if err != nil {
			lg.Warn().Err(err).Msg("metrics listener failed")
		} else {
			lg.Info().Str("addr", addr).Msg("metrics listening")
		}
	}

	go d.sup.Run()
	go d.tickLoop()

	lg := log.WithComponent("daemon")
	lg.Info().
		Str("home", d.cfg.Home).
		Str("socket", d.cfg.SocketPath).
		Int("groups", len(d.proj.Groups())).
		Msg("daemon started")
	return nil
}

// Wait blocks until Shutdown completes.
func (d *Daemon) Wait() {
	<-d.doneCh
}

// Shutdown stops everything in dependency order: no new requests, then
// engines, then actors, then a projection snapshot per group, then the
// ledger store.
func (d *Daemon) Shutdown(ctx context.Context) {
	d.stopOnce.Do(func() {
		lg := log.WithComponent("daemon")
		lg.Info().Msg("shutting down")
		d.srv.Stop()
		close(d.stopCh)

		d.sup.Shutdown(ctx)
		d.snapshotAll()

		if err := d.store.Close(); err != nil {
			lg.Warn().Err(err).Msg("ledger close failed")
		}
		d.broker.Stop()
		os.Remove(filepath.Join(d.cfg.Home, "daemon", "pid"))
		close(d.doneCh)
	})
}

func (d *Daemon) writePidFile() error {
	path := filepath.Join(d.cfg.Home, "daemon", "pid")
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return types.E(types.ErrIO, "failed to write pid file: %v", err)
	}
	return nil
}

// recoverGroups opens every on-disk ledger (repairing torn tails),
// restores the latest snapshot, replays the suffix, and hands actors to
// the supervisor.
func (d *Daemon) recoverGroups() error {
	ids, err := d.store.ListGroups()
	if err != nil {
		return err
	}
	for _, gid := range ids {
		if !d.store.GroupExists(gid) {
			continue
		}
		if err := d.store.Open(gid); err != nil {
			return err
		}

		from := ""
		upTo, state, err := d.store.LoadSnapshot(gid)
		if err != nil {
			lg := log.WithGroupID(gid)
			lg.Warn().Err(err).Msg("snapshot load failed; replaying full ledger")
		} else if state != nil {
			if err := d.proj.Restore(gid, state); err != nil {
				lg := log.WithGroupID(gid)
				lg.Warn().Err(err).Msg("snapshot restore failed; replaying full ledger")
			} else {
				seq, idErr := types.ParseEventID(upTo)
				if idErr == nil {
					from = types.FormatEventID(seq + 1)
				}
			}
		}

		res, err := d.store.Read(gid, ledger.Filter{FromID: from})
		if err != nil {
			return err
		}
		for _, ev := range res.Events {
			d.proj.Apply(ev)
		}

		for _, actor := range d.proj.Actors(gid) {
			d.sup.Register(actor, d.loadActorEnv(gid, actor.ID), d.workDir(gid))
		}
		log.WithGroupID(gid).Info().
			Int("replayed", len(res.Events)).
			Bool("from_snapshot", from != "").
			Msg("group recovered")
	}
	return nil
}

// commit is the single mutation path: append, project, fan out.
func (d *Daemon) commit(groupID string, kind types.EventKind, by, scopeKey string, payload any) (*types.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, types.E(types.ErrInternal, "failed to encode payload: %v", err)
	}
	ev, err := d.store.Append(groupID, kind, by, scopeKey, data)
	if err != nil {
		return nil, err
	}
	d.proj.Apply(ev)
	metrics.IncEvent(string(ev.Kind))
	d.eng.HandleEvent(ev)
	return ev, nil
}

// commitRaw adapts commit to the engines' CommitFunc shape.
func (d *Daemon) commitRaw(groupID string, kind types.EventKind, by string, data json.RawMessage) (*types.Event, error) {
	ev, err := d.store.Append(groupID, kind, by, "", data)
	if err != nil {
		return nil, err
	}
	d.proj.Apply(ev)
	metrics.IncEvent(string(ev.Kind))
	d.eng.HandleEvent(ev)
	return ev, nil
}

// onTransition turns supervisor lifecycle observations into ledger
// events.
func (d *Daemon) onTransition(t runner.Transition) {
	_, err := d.commit(t.GroupID, t.Kind, types.ByDaemon, "", types.ActorRefData{ID: t.ActorID, Reason: t.Reason})
	if err != nil {
		log.WithActorID(t.ActorID).Warn().Err(err).Msg("failed to record actor transition")
	}
}

// actorControl backs automation actor_control actions.
func (d *Daemon) actorControl(ctx context.Context, groupID, actorID string, op types.ActorControlOp) error {
	switch op {
	case types.ControlStart:
		return d.sup.Start(ctx, groupID, actorID)
	case types.ControlStop:
		return d.sup.Stop(ctx, groupID, actorID, "automation")
	case types.ControlRestart:
		return d.sup.Restart(ctx, groupID, actorID)
	}
	return types.E(types.ErrInvalidPayload, "unknown actor control op %q", op)
}

// replay backs subscription catch-up from the ledger.
func (d *Daemon) replay(filter ipc.SubscribeFilter) ([]*types.Event, error) {
	res, err := d.store.Read(filter.GroupID, ledger.Filter{
		Kinds:  filter.Kinds,
		FromID: filter.FromID,
	})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// tickLoop drives time-based work at 1 Hz: delivery (including the
// built-in nudge policies) before user automation rules.
func (d *Daemon) tickLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			d.eng.Tick(now)
			d.sch.Tick(now)
			d.updateActorGauge()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Daemon) updateActorGauge() {
	counts := make(map[string]int)
	for _, g := range d.proj.Groups() {
		for _, a := range d.proj.Actors(g.ID) {
			counts[string(d.sup.State(g.ID, a.ID))]++
		}
	}
	metrics.SetActorStates(counts)
}

// lockGroup serializes mutations per group; reads go straight to the
// projection.
func (d *Daemon) lockGroup(groupID string) func() {
	d.gmu.Lock()
	mu := d.groupLocks[groupID]
	if mu == nil {
		mu = &sync.Mutex{}
		d.groupLocks[groupID] = mu
	}
	d.gmu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// snapshotAll saves a projection snapshot per group so the next start
// replays only the suffix.
func (d *Daemon) snapshotAll() {
	for _, g := range d.proj.Groups() {
		if err := d.snapshotGroup(g.ID); err != nil {
			log.WithGroupID(g.ID).Warn().Err(err).Msg("shutdown snapshot failed")
		}
	}
}

func (d *Daemon) snapshotGroup(groupID string) error {
	upTo, err := d.store.LastID(groupID)
	if err != nil {
		return err
	}
	if upTo == "" {
		return nil
	}
	state, err := d.proj.Serialize(groupID)
	if err != nil {
		return err
	}
	_, err = d.store.SaveSnapshot(groupID, upTo, state)
	return err
}

// workDir is where an actor session runs: the group's first scope, or
// its state dir when nothing is attached yet.
func (d *Daemon) workDir(groupID string) string {
	if g := d.proj.Group(groupID); g != nil && len(g.Scopes) > 0 {
		return g.Scopes[0].Path
	}
	return d.store.GroupDir(groupID)
}

// Private env lives under the group state dir and never enters the
// ledger, exports, or reads.
func (d *Daemon) envPath(groupID, actorID string) string {
	return filepath.Join(d.store.GroupDir(groupID), "state", "env", actorID+".env")
}

func (d *Daemon) saveActorEnv(groupID, actorID string, env []string) error {
	path := d.envPath(groupID, actorID)
	if len(env) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return types.E(types.ErrIO, "failed to create env dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(env, "\n")+"\n"), 0o600); err != nil {
		return types.E(types.ErrIO, "failed to write actor env: %v", err)
	}
	return nil
}

func (d *Daemon) loadActorEnv(groupID, actorID string) []string {
	raw, err := os.ReadFile(d.envPath(groupID, actorID))
	if err != nil {
		return nil
	}
	var env []string
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			env = append(env, line)
		}
	}
	return env
}

// newGroupID mints a short, unambiguous group id.
func newGroupID() string {
	return "g-" + uuid.NewString()[:8]
}

// issueBindKey creates a one-time IM bind key for a group.
func (d *Daemon) issueBindKey(groupID string) types.BindKey {
	bk := types.BindKey{
		Key:       uuid.NewString(),
		GroupID:   groupID,
		ExpiresAt: time.Now().Add(types.BindKeyTTL),
	}
	d.bmu.Lock()
	d.bindKeys[bk.Key] = bk
	d.bmu.Unlock()
	return bk
}

// consumeBindKey validates and burns a bind key for a group.
func (d *Daemon) consumeBindKey(key, groupID string) bool {
	d.bmu.Lock()
	defer d.bmu.Unlock()
	bk, ok := d.bindKeys[key]
	if !ok || bk.GroupID != groupID || time.Now().After(bk.ExpiresAt) {
		return false
	}
	delete(d.bindKeys, key)
	return true
}
