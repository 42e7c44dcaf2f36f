package daemon

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/ledger"
	"github.com/cccc-dev/cccc/pkg/types"
)

// decode unmarshals request args, mapping malformed input to
// invalid_payload.
func decode[T any](raw json.RawMessage) (*T, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, types.E(types.ErrInvalidPayload, "malformed args: %v", err)
		}
	}
	return &v, nil
}

// requireGroup resolves a group or fails with no_such_group.
func (d *Daemon) requireGroup(groupID string) (*types.Group, error) {
	g := d.proj.Group(groupID)
	if g == nil {
		return nil, types.E(types.ErrNoSuchGroup, "no such group: %s", groupID)
	}
	return g, nil
}

// Handle implements ipc.Handler: the closed operation set every port
// speaks.
func (d *Daemon) Handle(ctx context.Context, op string, args json.RawMessage) (any, error) {
	switch op {
	case ipc.OpGroupCreate:
		return d.opGroupCreate(args)
	case ipc.OpGroupList:
		return d.opGroupList()
	case ipc.OpGroupGet:
		return d.opGroupGet(args)
	case ipc.OpGroupUpdate:
		return d.opGroupUpdate(args)
	case ipc.OpGroupDelete:
		return d.opGroupDelete(ctx, args)
	case ipc.OpGroupStart:
		return d.opGroupStart(args)
	case ipc.OpGroupStop:
		return d.opGroupStop(ctx, args)
	case ipc.OpGroupSetState:
		return d.opGroupSetState(args)

	case ipc.OpScopeAttach:
		return d.opScopeAttach(args)
	case ipc.OpScopeDetach:
		return d.opScopeDetach(args)

	case ipc.OpActorAdd:
		return d.opActorAdd(args)
	case ipc.OpActorUpdate:
		return d.opActorUpdate(args)
	case ipc.OpActorRemove:
		return d.opActorRemove(ctx, args)
	case ipc.OpActorStart:
		return d.opActorLifecycle(ctx, args, ipc.OpActorStart)
	case ipc.OpActorStop:
		return d.opActorLifecycle(ctx, args, ipc.OpActorStop)
	case ipc.OpActorRestart:
		return d.opActorLifecycle(ctx, args, ipc.OpActorRestart)
	case ipc.OpActorList:
		return d.opActorList(args)
	case ipc.OpActorPoll:
		return d.opActorPoll(args)
	case ipc.OpActorSetStatus:
		return d.opActorSetStatus(args)

	case ipc.OpLedgerRead:
		return d.opLedgerRead(args)
	case ipc.OpLedgerGet:
		return d.opLedgerGet(args)

	case ipc.OpInboxList:
		return d.opInboxList(args)
	case ipc.OpInboxMarkRead:
		return d.opInboxMarkRead(args)

	case ipc.OpMessageSend:
		return d.opMessageSend(args)
	case ipc.OpMessageAck:
		return d.opMessageAck(args)

	case ipc.OpBlobPut:
		return d.opBlobPut(args)

	case ipc.OpSettingsGet:
		return d.opSettingsGet(args)
	case ipc.OpSettingsUpdate:
		return d.opSettingsUpdate(args)

	case ipc.OpAutomationGet:
		return d.opAutomationGet(args)
	case ipc.OpAutomationUpdate:
		return d.opAutomationUpdate(args)
	case ipc.OpAutomationReset:
		return d.opAutomationReset(args)

	case ipc.OpBlueprintExport:
		return d.opBlueprintExport(args)
	case ipc.OpBlueprintImport:
		return d.opBlueprintImport(args)

	case ipc.OpIMGet:
		return d.opIMGet(args)
	case ipc.OpIMSet:
		return d.opIMSet(args)
	case ipc.OpIMUnset:
		return d.opIMUnset(args)
	case ipc.OpIMBindKey:
		return d.opIMBindKey(args)

	case ipc.OpRuntimeList:
		return types.BuiltinRuntimes, nil
	case ipc.OpTerminalTail:
		return d.opTerminalTail(args)

	case ipc.OpDebugSnapshot:
		return d.opDebugSnapshot(args)
	case ipc.OpDaemonPing:
		return d.opPing()
	case ipc.OpDaemonShutdown:
		go d.Shutdown(context.Background())
		return map[string]bool{"ok": true}, nil
	}
	return nil, types.E(types.ErrUnknownOp, "unknown op %q", op)
}

func (d *Daemon) opPing() (any, error) {
	return map[string]any{
		"pid":    os.Getpid(),
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
		"groups": len(d.proj.Groups()),
	}, nil
}

func (d *Daemon) opLedgerRead(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.LedgerReadArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	res, err := d.store.Read(a.GroupID, ledger.Filter{
		Kinds:  a.Kinds,
		FromID: a.FromID,
		ToID:   a.ToID,
		Around: a.Around,
		Before: a.Before,
		After:  a.After,
		Substr: a.Substr,
		Limit:  a.Limit,
	})
	if err != nil {
		return nil, err
	}
	return ipc.LedgerReadResult{
		Events:     res.Events,
		MoreBefore: res.MoreBefore,
		MoreAfter:  res.MoreAfter,
	}, nil
}

func (d *Daemon) opLedgerGet(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.LedgerGetArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	ev, err := d.store.Get(a.GroupID, a.EventID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, types.E(types.ErrInvalidPayload, "no such event: %s", a.EventID)
	}
	return ev, nil
}

func (d *Daemon) opDebugSnapshot(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.GroupRefArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	upTo, err := d.store.LastID(a.GroupID)
	if err != nil {
		return nil, err
	}
	if upTo == "" {
		return nil, types.E(types.ErrInvalidPayload, "group %s has no events to snapshot", a.GroupID)
	}
	state, err := d.proj.Serialize(a.GroupID)
	if err != nil {
		return nil, err
	}
	snap, err := d.store.SaveSnapshot(a.GroupID, upTo, state)
	if err != nil {
		return nil, err
	}
	if err := d.store.Compact(a.GroupID, upTo, snap); err != nil {
		return nil, err
	}
	return map[string]any{
		"up_to":  upTo,
		"sha256": snap.SHA256,
		"bytes":  snap.Bytes,
	}, nil
}
