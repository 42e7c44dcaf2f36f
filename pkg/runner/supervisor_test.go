package runner

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cccc-dev/cccc/pkg/types"
)

type transitionRecorder struct {
	mu sync.Mutex
	ts []Transition
}

func (tr *transitionRecorder) record(t Transition) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.ts = append(tr.ts, t)
}

func (tr *transitionRecorder) all() []Transition {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]Transition(nil), tr.ts...)
}

func testSupervisor(t *testing.T) (*Supervisor, *transitionRecorder) {
	t.Helper()
	rec := &transitionRecorder{}
	s := NewSupervisor(Config{
		Home:         t.TempDir(),
		DrainTimeout: 2 * time.Second,
		PollInterval: 50 * time.Millisecond,
		OnTransition: rec.record,
	})
	go s.Run()
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, rec
}

func ptyActor(id string, command ...string) *types.Actor {
	return &types.Actor{
		GroupID: "g1", ID: id, Runner: types.RunnerPTY, Runtime: "custom",
		Command: command, Enabled: true,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPTYStartInjectStop(t *testing.T) {
	s, rec := testSupervisor(t)
	s.Register(ptyActor("echoer", "cat"), nil, t.TempDir())

	ctx := context.Background()
	if err := s.Start(ctx, "g1", "echoer"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := s.State("g1", "echoer"); got != StateRunning {
		t.Fatalf("State() = %s, want running", got)
	}

	if err := s.Inject("g1", "echoer", "hello pty"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		lines, _ := s.Transcript("g1", "echoer", 0, true)
		return strings.Contains(strings.Join(lines, "\n"), "hello pty")
	}, "injected text never appeared in transcript")

	if err := s.Stop(ctx, "g1", "echoer", ""); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return s.State("g1", "echoer") == StateStopped
	}, "actor never reached stopped")

	kinds := []types.EventKind{}
	for _, tr := range rec.all() {
		kinds = append(kinds, tr.Kind)
	}
	if len(kinds) < 2 || kinds[0] != types.KindActorStart || kinds[1] != types.KindActorStop {
		t.Errorf("transitions = %v, want [actor.start actor.stop]", kinds)
	}
}

func TestStartWhileRunning(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Register(ptyActor("echoer", "cat"), nil, t.TempDir())

	ctx := context.Background()
	if err := s.Start(ctx, "g1", "echoer"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := s.Start(ctx, "g1", "echoer")
	if !types.IsCode(err, types.ErrActorAlreadyRunning) {
		t.Errorf("second Start() code = %v, want actor_already_running", types.CodeOf(err))
	}
}

func TestStopWhileStopped(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Register(ptyActor("echoer", "cat"), nil, t.TempDir())

	err := s.Stop(context.Background(), "g1", "echoer", "")
	if !types.IsCode(err, types.ErrActorNotRunning) {
		t.Errorf("Stop() on stopped actor code = %v, want actor_not_running", types.CodeOf(err))
	}
}

func TestCrashDetection(t *testing.T) {
	s, rec := testSupervisor(t)
	s.Register(ptyActor("flaky", "sh", "-c", "exit 3"), nil, t.TempDir())

	if err := s.Start(context.Background(), "g1", "flaky"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return s.State("g1", "flaky") == StateCrashed
	}, "exiting actor never reached crashed")

	var sawCrashStop bool
	for _, tr := range rec.all() {
		if tr.Kind == types.KindActorStop && tr.Reason != "" {
			sawCrashStop = true
		}
	}
	if !sawCrashStop {
		t.Error("crash did not emit an actor.stop transition with a reason")
	}
}

func TestStartFailureIsCrashedNoRetry(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Register(ptyActor("ghost", "/nonexistent/binary"), nil, t.TempDir())

	err := s.Start(context.Background(), "g1", "ghost")
	if err == nil {
		t.Fatal("Start() of missing binary succeeded")
	}
	if got := s.State("g1", "ghost"); got != StateCrashed {
		t.Errorf("State() after failed start = %s, want crashed", got)
	}
}

func TestHeadlessLifecycle(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Register(&types.Actor{
		GroupID: "g1", ID: "poller", Runner: types.RunnerHeadless, Enabled: true,
	}, nil, "")

	ctx := context.Background()
	if err := s.Start(ctx, "g1", "poller"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := s.Status("g1", "poller"); got != types.HeadlessOnline {
		t.Errorf("Status() = %s, want online", got)
	}

	if err := s.SetStatus("g1", "poller", types.HeadlessBusy); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if got := s.Status("g1", "poller"); got != types.HeadlessBusy {
		t.Errorf("Status() = %s, want busy", got)
	}

	err := s.Inject("g1", "poller", "nope")
	if !types.IsCode(err, types.ErrActorNotRunning) {
		t.Errorf("Inject() on headless code = %v, want actor_not_running", types.CodeOf(err))
	}

	// Missed polls flip the actor offline.
	waitFor(t, 3*time.Second, func() bool {
		return s.Status("g1", "poller") == types.HeadlessOffline
	}, "headless actor never went offline after missed polls")

	s.MarkPoll("g1", "poller")
	if got := s.Status("g1", "poller"); got != types.HeadlessOnline {
		t.Errorf("Status() after poll = %s, want online", got)
	}
}
