package daemon

import (
	"context"
	"encoding/json"
	"os"

	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/runner"
	"github.com/cccc-dev/cccc/pkg/types"
)

func (d *Daemon) opActorAdd(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.ActorAddArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.ActorID == "" {
		return nil, types.E(types.ErrInvalidPayload, "actor id required")
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionActorAdd); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	if d.proj.Actor(a.GroupID, a.ActorID) != nil {
		return nil, types.E(types.ErrInvalidPayload, "actor %s already exists", a.ActorID)
	}

	runtimeName := a.Runtime
	runnerKind := a.Runner
	command := a.Command
	env := a.Env
	if a.Profile != "" {
		profile, ok := d.registry.Profile(a.Profile)
		if !ok {
			return nil, types.E(types.ErrInvalidPayload, "no such actor profile %q", a.Profile)
		}
		if runtimeName == "" {
			runtimeName = profile.Runtime
		}
		if runnerKind == "" {
			runnerKind = profile.Runner
		}
		if len(command) == 0 {
			command = profile.Command
		}
		env = append(append([]string(nil), profile.Env...), env...)
	}
	if runnerKind == "" {
		runnerKind = types.RunnerPTY
	}
	if runtimeName == "" {
		runtimeName = "custom"
	}
	if len(command) == 0 && runnerKind == types.RunnerPTY {
		rt, ok := types.LookupRuntime(runtimeName)
		if !ok || len(rt.Command) == 0 {
			return nil, types.E(types.ErrInvalidPayload, "runtime %q requires an explicit command", runtimeName)
		}
		command = rt.Command
	}

	actor := types.Actor{
		ID:      a.ActorID,
		Runtime: runtimeName,
		Runner:  runnerKind,
		Command: command,
		Enabled: true,
		Profile: a.Profile,
	}
	if _, err := d.commit(a.GroupID, types.KindActorAdd, a.By, "", actor); err != nil {
		return nil, err
	}
	if err := d.saveActorEnv(a.GroupID, a.ActorID, env); err != nil {
		return nil, err
	}
	projected := d.proj.Actor(a.GroupID, a.ActorID)
	d.sup.Register(projected, env, d.workDir(a.GroupID))
	d.mirrorGroup(a.GroupID)
	return projected, nil
}

func (d *Daemon) opActorUpdate(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.ActorUpdateArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionActorAdd); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	if d.proj.Actor(a.GroupID, a.ActorID) == nil {
		return nil, types.E(types.ErrNoSuchActor, "no such actor: %s", a.ActorID)
	}
	_, err = d.commit(a.GroupID, types.KindActorUpdate, a.By, "", types.ActorUpdateData{
		ID:      a.ActorID,
		Enabled: a.Enabled,
		Command: a.Command,
		Runtime: a.Runtime,
		Profile: a.Profile,
	})
	if err != nil {
		return nil, err
	}

	// A stopped session picks up command and runtime changes on the
	// spot; a running one keeps its process until restarted.
	updated := d.proj.Actor(a.GroupID, a.ActorID)
	if d.sup.State(a.GroupID, a.ActorID) == runner.StateStopped {
		d.sup.Deregister(context.Background(), a.GroupID, a.ActorID)
		d.sup.Register(updated, d.loadActorEnv(a.GroupID, a.ActorID), d.workDir(a.GroupID))
	}
	d.mirrorGroup(a.GroupID)
	return updated, nil
}

func (d *Daemon) opActorRemove(ctx context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[ipc.ActorRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	if err := d.proj.Check(a.GroupID, a.By, kernel.ActionActorRemove, a.ActorID); err != nil {
		return nil, err
	}
	if err := d.proj.CheckState(a.GroupID, a.By, kernel.ActionActorRemove); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	if d.proj.Actor(a.GroupID, a.ActorID) == nil {
		return nil, types.E(types.ErrNoSuchActor, "no such actor: %s", a.ActorID)
	}
	d.sup.Deregister(ctx, a.GroupID, a.ActorID)
	if _, err := d.commit(a.GroupID, types.KindActorRemove, a.By, "", types.ActorRefData{ID: a.ActorID}); err != nil {
		return nil, err
	}
	os.Remove(d.envPath(a.GroupID, a.ActorID))
	d.mirrorGroup(a.GroupID)
	return map[string]bool{"removed": true}, nil
}

// opActorLifecycle handles start, stop, and restart. The supervisor
// reports the resulting transition, which commits the ledger event.
func (d *Daemon) opActorLifecycle(ctx context.Context, raw json.RawMessage, op string) (any, error) {
	a, err := decode[ipc.ActorRefArgs](raw)
	if err != nil {
		return nil, err
	}
	var action kernel.Action
	switch op {
	case ipc.OpActorStart:
		action = kernel.ActionActorStart
	case ipc.OpActorStop:
		action = kernel.ActionActorStop
	default:
		action = kernel.ActionActorRestart
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	if err := d.proj.Check(a.GroupID, a.By, action, a.ActorID); err != nil {
		return nil, err
	}
	if err := d.proj.CheckState(a.GroupID, a.By, action); err != nil {
		return nil, err
	}

	actor := d.proj.Actor(a.GroupID, a.ActorID)
	if actor == nil {
		return nil, types.E(types.ErrNoSuchActor, "no such actor: %s", a.ActorID)
	}
	switch op {
	case ipc.OpActorStart:
		if !actor.Enabled {
			return nil, types.E(types.ErrInvalidPayload, "actor %s is disabled", a.ActorID)
		}
		err = d.sup.Start(ctx, a.GroupID, a.ActorID)
	case ipc.OpActorStop:
		err = d.sup.Stop(ctx, a.GroupID, a.ActorID, "requested")
	default:
		err = d.sup.Restart(ctx, a.GroupID, a.ActorID)
	}
	if err != nil {
		return nil, err
	}
	return d.actorInfo(a.GroupID, a.ActorID), nil
}

func (d *Daemon) opActorList(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	actors := d.proj.Actors(a.GroupID)
	out := make([]*ipc.ActorInfo, 0, len(actors))
	for _, actor := range actors {
		out = append(out, d.actorInfo(a.GroupID, actor.ID))
	}
	return out, nil
}

// opActorPoll is how a headless actor fetches its inbox; the poll also
// feeds its liveness tracking.
func (d *Daemon) opActorPoll(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.ActorRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	actor := d.proj.Actor(a.GroupID, a.ActorID)
	if actor == nil {
		return nil, types.E(types.ErrNoSuchActor, "no such actor: %s", a.ActorID)
	}
	if a.By != a.ActorID && a.By != types.ByUser {
		return nil, types.E(types.ErrPermissionDenied, "%s may not poll for %s", a.By, a.ActorID).
			WithDetail("principal", a.By)
	}
	d.sup.MarkPoll(a.GroupID, a.ActorID)
	return d.inboxResult(a.GroupID, a.ActorID, 0)
}

func (d *Daemon) opActorSetStatus(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.ActorSetStatusArgs](raw)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case types.HeadlessOnline, types.HeadlessBusy, types.HeadlessOffline:
	default:
		return nil, types.E(types.ErrInvalidPayload, "unknown status %q", a.Status)
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	if a.By != a.ActorID && a.By != types.ByUser {
		return nil, types.E(types.ErrPermissionDenied, "%s may not set status for %s", a.By, a.ActorID).
			WithDetail("principal", a.By)
	}
	if err := d.sup.SetStatus(a.GroupID, a.ActorID, a.Status); err != nil {
		return nil, err
	}
	_, err = d.commit(a.GroupID, types.KindActorUpdate, a.By, "", types.ActorUpdateData{
		ID:     a.ActorID,
		Status: a.Status,
	})
	if err != nil {
		return nil, err
	}
	return d.actorInfo(a.GroupID, a.ActorID), nil
}

func (d *Daemon) actorInfo(groupID, actorID string) *ipc.ActorInfo {
	actor := d.proj.Actor(groupID, actorID)
	if actor == nil {
		return nil
	}
	return &ipc.ActorInfo{
		Actor:        *actor,
		SessionState: d.sup.State(groupID, actorID),
		Status:       d.sup.Status(groupID, actorID),
		LastOutputAt: d.sup.LastOutputAt(groupID, actorID),
	}
}
