package daemon

import (
	"encoding/json"
	"time"

	"github.com/cccc-dev/cccc/pkg/blueprint"
	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/types"
)

func (d *Daemon) opSettingsGet(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	g, err := d.requireGroup(a.GroupID)
	if err != nil {
		return nil, err
	}
	return g.Settings, nil
}

// opSettingsUpdate replaces a group's settings wholesale. Unknown keys
// round-trip through Settings.Extra, so a newer port's options survive.
func (d *Daemon) opSettingsUpdate(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.SettingsUpdateArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionGroupSettingsUpdate); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	if _, err := d.commit(a.GroupID, types.KindGroupSettingsUpdate, a.By, "", a.Settings); err != nil {
		return nil, err
	}
	d.mirrorGroup(a.GroupID)
	return d.proj.Group(a.GroupID).Settings, nil
}

func (d *Daemon) opAutomationGet(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	return d.proj.Ruleset(a.GroupID), nil
}

func (d *Daemon) opAutomationUpdate(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.AutomationUpdateArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionGroupAutomationUpdate); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	rs, err := d.sch.Update(a.GroupID, a.By, a.Rules, a.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func (d *Daemon) opAutomationReset(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionGroupAutomationUpdate); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	rs, err := d.sch.Reset(a.GroupID, a.By)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func (d *Daemon) opBlueprintExport(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	g, err := d.requireGroup(a.GroupID)
	if err != nil {
		return nil, err
	}
	out, err := blueprint.Export(g, d.proj.Actors(a.GroupID), d.proj.Ruleset(a.GroupID))
	if err != nil {
		return nil, err
	}
	return ipc.BlueprintExportResult{Blueprint: out}, nil
}

// opBlueprintImport replays a blueprint into a group: metadata and
// settings, then scopes, actors, and rules, all as ordinary commits so
// the new group's ledger reads like a hand-built one.
func (d *Daemon) opBlueprintImport(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.BlueprintImportArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.By != "" && a.By != types.ByUser {
		return nil, types.E(types.ErrPermissionDenied, "only the user may import blueprints").
			WithDetail("principal", a.By)
	}
	bp, err := blueprint.Parse(a.Blueprint)
	if err != nil {
		return nil, err
	}

	fresh := a.GroupID == ""
	gid := a.GroupID
	if fresh {
		gid = newGroupID()
		if err := d.store.CreateGroup(gid); err != nil {
			return nil, err
		}
	} else if _, err := d.requireGroup(gid); err != nil {
		return nil, err
	}

	unlock := d.lockGroup(gid)
	defer unlock()

	if fresh {
		_, err := d.commit(gid, types.KindGroupCreate, types.ByUser, "", types.GroupCreateData{
			Title:    bp.Title,
			Topic:    bp.Topic,
			Settings: bp.Settings,
		})
		if err != nil {
			return nil, err
		}
	} else {
		g := d.proj.Group(gid)
		if len(g.Scopes) > 0 || len(d.proj.Actors(gid)) > 0 || d.proj.Ruleset(gid).Version > 0 {
			return nil, types.E(types.ErrInvalidPayload, "group %s is not empty; import needs a fresh group", gid)
		}
		if bp.Title != "" || bp.Topic != "" {
			title, topic := bp.Title, bp.Topic
			_, err := d.commit(gid, types.KindGroupUpdate, types.ByUser, "", types.GroupUpdateData{
				Title: &title,
				Topic: &topic,
			})
			if err != nil {
				return nil, err
			}
		}
		if bp.Settings != nil {
			if _, err := d.commit(gid, types.KindGroupSettingsUpdate, types.ByUser, "", *bp.Settings); err != nil {
				return nil, err
			}
		}
	}

	for _, sc := range bp.Scopes {
		if _, err := d.commit(gid, types.KindGroupAttach, types.ByUser, sc.Key, sc); err != nil {
			return nil, err
		}
	}
	for _, ba := range bp.Actors {
		actor, env, err := d.resolveBlueprintActor(ba)
		if err != nil {
			return nil, err
		}
		if _, err := d.commit(gid, types.KindActorAdd, types.ByUser, "", actor); err != nil {
			return nil, err
		}
		if err := d.saveActorEnv(gid, actor.ID, env); err != nil {
			return nil, err
		}
		d.sup.Register(d.proj.Actor(gid, actor.ID), env, d.workDir(gid))
	}
	if len(bp.Rules) > 0 {
		if _, err := d.sch.Update(gid, types.ByUser, bp.Rules, d.proj.Ruleset(gid).Version); err != nil {
			return nil, err
		}
	}

	g := d.proj.Group(gid)
	if err := d.registry.AddGroup(RegistryGroup{ID: gid, Title: g.Title, CreatedAt: g.CreatedAt}); err != nil {
		return nil, err
	}
	d.mirrorGroup(gid)
	return ipc.GroupDetail{Group: g, Actors: d.proj.Actors(gid)}, nil
}

// resolveBlueprintActor fills in profile and runtime defaults the same
// way actor.add does. A missing profile only matters when the actor has
// no concrete command of its own.
func (d *Daemon) resolveBlueprintActor(ba blueprint.Actor) (types.Actor, []string, error) {
	actor := types.Actor{
		ID:      ba.ID,
		Runtime: ba.Runtime,
		Runner:  ba.Runner,
		Command: append([]string(nil), ba.Command...),
		Enabled: ba.Enabled,
		Profile: ba.Profile,
	}
	var env []string
	if ba.Profile != "" {
		if profile, ok := d.registry.Profile(ba.Profile); ok {
			if actor.Runtime == "" {
				actor.Runtime = profile.Runtime
			}
			if len(actor.Command) == 0 {
				actor.Command = profile.Command
			}
			env = append([]string(nil), profile.Env...)
		}
	}
	if actor.Runtime == "" {
		actor.Runtime = "custom"
	}
	if len(actor.Command) == 0 && actor.Runner == types.RunnerPTY {
		rt, ok := types.LookupRuntime(actor.Runtime)
		if !ok || len(rt.Command) == 0 {
			return types.Actor{}, nil, types.E(types.ErrInvalidPayload,
				"actor %s: runtime %q requires an explicit command", ba.ID, actor.Runtime)
		}
		actor.Command = rt.Command
	}
	return actor, env, nil
}

func (d *Daemon) opIMGet(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	g, err := d.requireGroup(a.GroupID)
	if err != nil {
		return nil, err
	}
	return g.IMBinding, nil
}

// opIMSet binds a group to a bridge channel. The user binds directly; a
// bridge proves itself with a one-time bind key issued by im.bind_key.
func (d *Daemon) opIMSet(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.IMSetArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.Platform == "" || a.ChannelID == "" {
		return nil, types.E(types.ErrInvalidPayload, "im binding requires platform and channel_id")
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}

	by := types.ByUser
	if a.By != "" && a.By != types.ByUser {
		if !d.consumeBindKey(a.BindKey, a.GroupID) {
			return nil, types.E(types.ErrUnauthorized, "invalid or expired bind key").
				WithDetail("group_id", a.GroupID)
		}
		by = types.ByDaemon
	}
	if err := d.proj.CheckState(a.GroupID, by, kernel.ActionContextUpdate); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	binding := &types.IMBinding{
		Platform:  a.Platform,
		ChannelID: a.ChannelID,
		BoundAt:   time.Now().UTC(),
	}
	if _, err := d.commit(a.GroupID, types.KindGroupUpdate, by, "", types.GroupUpdateData{IMBinding: binding}); err != nil {
		return nil, err
	}
	d.mirrorGroup(a.GroupID)
	return binding, nil
}

func (d *Daemon) opIMUnset(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionContextUpdate); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	if _, err := d.commit(a.GroupID, types.KindGroupUpdate, a.By, "", types.GroupUpdateData{ClearIMBinding: true}); err != nil {
		return nil, err
	}
	d.mirrorGroup(a.GroupID)
	return map[string]bool{"unbound": true}, nil
}

func (d *Daemon) opIMBindKey(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.By != "" && a.By != types.ByUser {
		return nil, types.E(types.ErrPermissionDenied, "only the user may issue bind keys").
			WithDetail("principal", a.By)
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	return d.issueBindKey(a.GroupID), nil
}

// opTerminalTail exposes an actor's trailing transcript, gated by the
// group's visibility setting: the user always may, "all" admits any
// group actor, "foreman" only the foreman, anything else no actor.
func (d *Daemon) opTerminalTail(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.TerminalTailArgs](raw)
	if err != nil {
		return nil, err
	}
	g, err := d.requireGroup(a.GroupID)
	if err != nil {
		return nil, err
	}
	if d.proj.Actor(a.GroupID, a.ActorID) == nil {
		return nil, types.E(types.ErrNoSuchActor, "no such actor: %s", a.ActorID)
	}
	if a.By != "" && a.By != types.ByUser {
		caller := d.proj.Actor(a.GroupID, a.By)
		if caller == nil {
			return nil, types.E(types.ErrNoSuchActor, "unknown principal %q", a.By).
				WithDetail("principal", a.By)
		}
		switch g.Settings.TerminalTranscriptVisibility {
		case types.TranscriptAll:
		case types.TranscriptForeman:
			if caller.Role != types.RoleForeman {
				return nil, types.E(types.ErrPermissionDenied, "transcript visibility is foreman-only").
					WithDetail("principal", a.By)
			}
		default:
			return nil, types.E(types.ErrPermissionDenied, "transcripts are not exposed to actors").
				WithDetail("principal", a.By)
		}
	}
	lines, err := d.sup.Transcript(a.GroupID, a.ActorID, a.Lines, !a.KeepANSI)
	if err != nil {
		return nil, err
	}
	return ipc.TerminalTailResult{Lines: lines}, nil
}
