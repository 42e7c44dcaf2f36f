package kernel

import "github.com/cccc-dev/cccc/pkg/types"

// Action is a permission-checked operation class.
type Action string

const (
	ActionActorAdd     Action = "actor_add"
	ActionActorStart   Action = "actor_start"
	ActionActorStop    Action = "actor_stop"
	ActionActorRestart Action = "actor_restart"
	ActionActorRemove  Action = "actor_remove"

	ActionGroupStart            Action = "group_start"
	ActionGroupStop             Action = "group_stop"
	ActionGroupSetState         Action = "group_set_state"
	ActionGroupSettingsUpdate   Action = "group_settings_update"
	ActionGroupAutomationUpdate Action = "group_automation_update"
	ActionGroupDelete           Action = "group_delete"

	ActionMessageSend   Action = "message_send"
	ActionMessageAck    Action = "message_ack"
	ActionInboxMarkRead Action = "inbox_mark_read"
	ActionContextUpdate Action = "context_update"
)

// gatedWhenStopped reports whether an action mutates actor lifecycle or
// group configuration; these are the actions a stopped group rejects.
func (a Action) gatedWhenStopped() bool {
	switch a {
	case ActionActorAdd, ActionActorStart, ActionActorStop, ActionActorRestart,
		ActionActorRemove, ActionGroupSettingsUpdate, ActionGroupAutomationUpdate,
		ActionContextUpdate:
		return true
	}
	return false
}

// Check evaluates the permission matrix for principal performing action
// in a group, optionally against a target actor. The principal is
// "user" or an actor id; roles come from the projection.
//
// Users may do anything. The foreman may do anything a user may except
// delete the group. A peer may only stop, restart, or remove itself,
// and send, ack, and mark-read messages.
func (p *Projection) Check(groupID, principal string, action Action, targetActor string) error {
	deny := func() error {
		return types.E(types.ErrPermissionDenied, "%s may not %s", principal, action).
			WithDetail("principal", principal).
			WithDetail("action", string(action))
	}

	if principal == types.ByUser || principal == types.ByDaemon || principal == types.ByAutomation {
		return nil
	}

	actor := p.Actor(groupID, principal)
	if actor == nil {
		return types.E(types.ErrNoSuchActor, "unknown principal %q", principal).
			WithDetail("principal", principal).
			WithDetail("action", string(action))
	}

	if actor.Role == types.RoleForeman {
		if action == ActionGroupDelete {
			return deny()
		}
		return nil
	}

	// Peer.
	switch action {
	case ActionMessageSend, ActionMessageAck, ActionInboxMarkRead:
		return nil
	case ActionActorStop, ActionActorRestart, ActionActorRemove:
		if targetActor == principal {
			return nil
		}
	}
	return deny()
}

// CheckState applies the group lifecycle gate to an action. A stopped
// group rejects lifecycle and configuration mutations with
// group_stopped; reads, inbox operations, and message sends from the
// user stay allowed so the group can be inspected and woken. Paused
// only suspends delivery fan-out, which is not gated here.
func (p *Projection) CheckState(groupID, principal string, action Action) error {
	g := p.Group(groupID)
	if g == nil {
		return types.E(types.ErrNoSuchGroup, "no such group: %s", groupID)
	}
	if g.State != types.GroupStopped {
		return nil
	}
	if action.gatedWhenStopped() || (action == ActionMessageSend && principal != types.ByUser) {
		return types.E(types.ErrGroupStopped, "group %s is stopped", groupID).
			WithDetail("action", string(action))
	}
	return nil
}
