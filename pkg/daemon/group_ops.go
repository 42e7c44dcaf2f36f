package daemon

import (
	"context"
	"encoding/json"

	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/types"
)

func (d *Daemon) opGroupCreate(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupCreateArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.By != "" && a.By != types.ByUser {
		return nil, types.E(types.ErrPermissionDenied, "only the user may create groups").
			WithDetail("principal", a.By)
	}

	gid := newGroupID()
	if err := d.store.CreateGroup(gid); err != nil {
		return nil, err
	}
	_, err = d.commit(gid, types.KindGroupCreate, types.ByUser, "", types.GroupCreateData{
		Title:    a.Title,
		Topic:    a.Topic,
		Settings: a.Settings,
	})
	if err != nil {
		return nil, err
	}
	if a.Scope != nil {
		if _, err := d.commit(gid, types.KindGroupAttach, types.ByUser, a.Scope.Key, a.Scope); err != nil {
			return nil, err
		}
	}

	g, err := d.requireGroup(gid)
	if err != nil {
		return nil, err
	}
	if err := d.registry.AddGroup(RegistryGroup{ID: gid, Title: g.Title, CreatedAt: g.CreatedAt}); err != nil {
		return nil, err
	}
	d.mirrorGroup(gid)
	return g, nil
}

func (d *Daemon) opGroupList() (any, error) {
	return d.proj.Groups(), nil
}

func (d *Daemon) opGroupGet(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	g, err := d.requireGroup(a.GroupID)
	if err != nil {
		return nil, err
	}
	return ipc.GroupDetail{Group: g, Actors: d.proj.Actors(a.GroupID)}, nil
}

func (d *Daemon) opGroupUpdate(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupUpdateArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	if err := d.proj.Check(a.GroupID, a.By, kernel.ActionContextUpdate, ""); err != nil {
		return nil, err
	}
	if err := d.proj.CheckState(a.GroupID, a.By, kernel.ActionContextUpdate); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	_, err = d.commit(a.GroupID, types.KindGroupUpdate, a.By, "", types.GroupUpdateData{
		Title: a.Title,
		Topic: a.Topic,
	})
	if err != nil {
		return nil, err
	}
	g := d.proj.Group(a.GroupID)
	d.registry.AddGroup(RegistryGroup{ID: g.ID, Title: g.Title, CreatedAt: g.CreatedAt})
	d.mirrorGroup(a.GroupID)
	return g, nil
}

// opGroupDelete destroys a group entirely. The confirm id must repeat
// the group id so a port cannot delete by accident.
func (d *Daemon) opGroupDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupDeleteArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	if a.ConfirmID != a.GroupID {
		return nil, types.E(types.ErrInvalidPayload, "confirm_id must repeat the group id")
	}
	if err := d.proj.Check(a.GroupID, a.By, kernel.ActionGroupDelete, ""); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	for _, actor := range d.proj.Actors(a.GroupID) {
		d.sup.Deregister(ctx, a.GroupID, actor.ID)
	}
	if err := d.store.DeleteGroup(a.GroupID); err != nil {
		return nil, err
	}
	d.proj.DropGroup(a.GroupID)
	if err := d.registry.RemoveGroup(a.GroupID); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

func (d *Daemon) opGroupStart(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionGroupStart); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()
	if _, err := d.commit(a.GroupID, types.KindGroupStart, a.By, "", struct{}{}); err != nil {
		return nil, err
	}
	d.mirrorGroup(a.GroupID)
	return d.proj.Group(a.GroupID), nil
}

// opGroupStop stops the group and drains every running actor.
func (d *Daemon) opGroupStop(ctx context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionGroupStop); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	if _, err := d.commit(a.GroupID, types.KindGroupStop, a.By, "", struct{}{}); err != nil {
		return nil, err
	}
	for _, actor := range d.proj.Actors(a.GroupID) {
		if actor.Running {
			if err := d.sup.Stop(ctx, a.GroupID, actor.ID, "group stopped"); err != nil {
				lg := log.WithActorID(actor.ID)
				lg.Warn().Err(err).Msg("stop on group stop failed")
			}
		}
	}
	d.mirrorGroup(a.GroupID)
	return d.proj.Group(a.GroupID), nil
}

func (d *Daemon) opGroupSetState(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupSetStateArgs](raw)
	if err != nil {
		return nil, err
	}
	if !types.ValidGroupState(a.State) {
		return nil, types.E(types.ErrInvalidPayload, "unknown group state %q", a.State)
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionGroupSetState); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()
	_, err = d.commit(a.GroupID, types.KindGroupSetState, a.By, "", types.GroupSetStateData{State: a.State})
	if err != nil {
		return nil, err
	}
	d.mirrorGroup(a.GroupID)
	return d.proj.Group(a.GroupID), nil
}

func (d *Daemon) groupStateChecks(groupID, by string, action kernel.Action) error {
	if _, err := d.requireGroup(groupID); err != nil {
		return err
	}
	if err := d.proj.Check(groupID, by, action, ""); err != nil {
		return err
	}
	return d.proj.CheckState(groupID, by, action)
}

func (d *Daemon) opScopeAttach(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.ScopeAttachArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.Key == "" || a.Path == "" {
		return nil, types.E(types.ErrInvalidPayload, "scope requires key and path")
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionContextUpdate); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	g := d.proj.Group(a.GroupID)
	for _, sc := range g.Scopes {
		if sc.Key == a.Key {
			return nil, types.E(types.ErrScopeAlreadyAttached, "scope %q is already attached", a.Key).
				WithDetail("key", a.Key)
		}
	}
	scope := types.Scope{Key: a.Key, Path: a.Path}
	if _, err := d.commit(a.GroupID, types.KindGroupAttach, a.By, a.Key, scope); err != nil {
		return nil, err
	}
	d.mirrorGroup(a.GroupID)
	return d.proj.Group(a.GroupID), nil
}

func (d *Daemon) opScopeDetach(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.ScopeDetachArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := d.groupStateChecks(a.GroupID, a.By, kernel.ActionContextUpdate); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	g := d.proj.Group(a.GroupID)
	found := false
	for _, sc := range g.Scopes {
		if sc.Key == a.Key {
			found = true
			break
		}
	}
	if !found {
		return nil, types.E(types.ErrInvalidPayload, "no scope %q attached", a.Key)
	}
	if _, err := d.commit(a.GroupID, types.KindGroupDetach, a.By, a.Key, types.ScopeDetachData{Key: a.Key}); err != nil {
		return nil, err
	}
	d.mirrorGroup(a.GroupID)
	return d.proj.Group(a.GroupID), nil
}
