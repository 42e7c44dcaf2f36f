package runner

import (
	"context"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/pkg/types"
)

// headlessRunner tracks an agent that owns no child process and
// discovers messages by polling its inbox. Liveness is inferred from
// the last poll; status is settable by the agent itself.
type headlessRunner struct {
	actorID string

	mu       sync.Mutex
	state    State
	status   types.HeadlessStatus
	lastPoll time.Time
}

func newHeadlessRunner(actorID string) *headlessRunner {
	return &headlessRunner{actorID: actorID, state: StateStopped, status: types.HeadlessOffline}
}

func (r *headlessRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return types.E(types.ErrActorAlreadyRunning, "actor %s is already running", r.actorID)
	}
	r.state = StateRunning
	r.status = types.HeadlessOnline
	r.lastPoll = time.Now()
	return nil
}

func (r *headlessRunner) Stop(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return types.E(types.ErrActorNotRunning, "actor %s is not running", r.actorID)
	}
	r.state = StateStopped
	r.status = types.HeadlessOffline
	return nil
}

// Inject is never valid for a headless actor; messages reach it through
// inbox polling.
func (r *headlessRunner) Inject(text string) error {
	return types.E(types.ErrActorNotRunning, "actor %s is headless; it polls its inbox", r.actorID)
}

func (r *headlessRunner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastOutputAt for a headless actor is its last poll time.
func (r *headlessRunner) LastOutputAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPoll
}

func (r *headlessRunner) markPoll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPoll = time.Now()
	if r.state == StateRunning && r.status == types.HeadlessOffline {
		r.status = types.HeadlessOnline
	}
}

func (r *headlessRunner) setStatus(s types.HeadlessStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func (r *headlessRunner) currentStatus() types.HeadlessStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// checkLiveness flips a running headless actor to offline once it has
// missed enough polls.
func (r *headlessRunner) checkLiveness(pollInterval time.Duration, missedPolls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning || r.status == types.HeadlessOffline {
		return
	}
	if time.Since(r.lastPoll) > pollInterval*time.Duration(missedPolls) {
		r.status = types.HeadlessOffline
	}
}
