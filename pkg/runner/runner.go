package runner

import (
	"context"
	"time"
)

// State is an actor session's lifecycle state. Crashed is terminal
// inside stopped: no automatic retry, an explicit restart is required.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

// runner is one actor session, PTY-attached or headless.
type runner interface {
	Start(ctx context.Context) error
	// Stop drains gracefully up to the timeout, then kills.
	Stop(ctx context.Context, timeout time.Duration) error
	Inject(text string) error
	State() State
	LastOutputAt() time.Time
}
