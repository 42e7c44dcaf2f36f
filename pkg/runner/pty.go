package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/types"
)

// ptyRunner owns one agent child process attached to a pseudo-terminal.
type ptyRunner struct {
	groupID   string
	actorID   string
	command   []string
	env       []string
	dir       string
	submitKey string
	pidFile   string

	transcript *Transcript
	onExit     func(crashed bool, reason string)

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	tty        *os.File
	lastOutput time.Time
	waitDone   chan struct{}
}

func newPTYRunner(groupID string, actor *types.Actor, env []string, dir, pidFile string, transcriptBytes int, onExit func(bool, string)) *ptyRunner {
	submit := "\n"
	if rt, ok := types.LookupRuntime(actor.Runtime); ok && rt.SubmitKey != "" {
		submit = rt.SubmitKey
	}
	command := actor.Command
	if len(command) == 0 {
		if rt, ok := types.LookupRuntime(actor.Runtime); ok {
			command = rt.Command
		}
	}
	return &ptyRunner{
		groupID:    groupID,
		actorID:    actor.ID,
		command:    command,
		env:        env,
		dir:        dir,
		submitKey:  submit,
		pidFile:    pidFile,
		transcript: NewTranscript(transcriptBytes),
		onExit:     onExit,
		state:      StateStopped,
	}
}

func (r *ptyRunner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *ptyRunner) LastOutputAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOutput
}

// Start spawns the agent on a fresh pty. A failure to spawn lands in
// crashed without retry.
func (r *ptyRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateRunning, StateStarting:
		r.mu.Unlock()
		return types.E(types.ErrActorAlreadyRunning, "actor %s is already running", r.actorID)
	case StateStopping:
		r.mu.Unlock()
		return types.E(types.ErrActorNotRunning, "actor %s is stopping", r.actorID)
	}
	if len(r.command) == 0 {
		r.state = StateCrashed
		r.mu.Unlock()
		return types.E(types.ErrInvalidPayload, "actor %s has no command", r.actorID)
	}
	r.state = StateStarting
	r.mu.Unlock()

	cmd := exec.Command(r.command[0], r.command[1:]...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), r.env...)
	// Own process group so graceful stop can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	tty, err := pty.Start(cmd)
	if err != nil {
		r.mu.Lock()
		r.state = StateCrashed
		r.mu.Unlock()
		return types.E(types.ErrIO, "failed to start actor %s: %v", r.actorID, err)
	}

	if err := writePidFile(r.pidFile, cmd.Process.Pid); err != nil {
		lg := log.WithActorID(r.actorID)
		lg.Warn().Err(err).Msg("failed to write pid file")
	}

	r.mu.Lock()
	r.cmd = cmd
	r.tty = tty
	r.state = StateRunning
	r.lastOutput = time.Now()
	r.waitDone = make(chan struct{})
	done := r.waitDone
	r.mu.Unlock()

	go r.pump(tty)
	go r.reap(cmd, done)

	lg := log.WithActorID(r.actorID)
	lg.Info().
		Str("group_id", r.groupID).
		Int("pid", cmd.Process.Pid).
		Msg("actor started")
	return nil
}

// pump copies pty output into the transcript ring until the pty closes.
func (r *ptyRunner) pump(tty *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := tty.Read(buf)
		if n > 0 {
			r.transcript.Write(buf[:n])
			r.mu.Lock()
			r.lastOutput = time.Now()
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// reap waits for the child and classifies the exit. An exit while the
// runner believed the actor running is a crash.
func (r *ptyRunner) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	r.mu.Lock()
	crashed := r.state == StateRunning
	if crashed {
		r.state = StateCrashed
	} else {
		r.state = StateStopped
	}
	if r.tty != nil {
		r.tty.Close()
		r.tty = nil
	}
	r.cmd = nil
	r.mu.Unlock()

	os.Remove(r.pidFile)

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if crashed {
		lg := log.WithActorID(r.actorID)
		lg.Warn().Str("reason", reason).Msg("actor crashed")
	}
	if r.onExit != nil {
		r.onExit(crashed, reason)
	}
}

// Stop signals the process group, waits up to timeout, then kills.
func (r *ptyRunner) Stop(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return types.E(types.ErrActorNotRunning, "actor %s is not running", r.actorID)
	}
	r.state = StateStopping
	cmd := r.cmd
	done := r.waitDone
	r.mu.Unlock()

	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(timeout):
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	case <-ctx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}
	return nil
}

// Inject writes rendered text plus the runtime's submit key to the pty.
func (r *ptyRunner) Inject(text string) error {
	r.mu.Lock()
	tty := r.tty
	state := r.state
	r.mu.Unlock()

	if state != StateRunning || tty == nil {
		return types.E(types.ErrActorNotRunning, "actor %s is not running", r.actorID)
	}
	if _, err := io.WriteString(tty, text); err != nil {
		return types.E(types.ErrIO, "failed to inject into actor %s: %v", r.actorID, err)
	}
	if !strings.HasSuffix(text, r.submitKey) {
		if _, err := io.WriteString(tty, r.submitKey); err != nil {
			return types.E(types.ErrIO, "failed to submit injection to actor %s: %v", r.actorID, err)
		}
	}
	return nil
}

func writePidFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0o644)
}

// readPidFile returns the recorded pid, or 0 if absent or malformed.
func readPidFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// pidAlive reports whether a pid still refers to a live process.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
