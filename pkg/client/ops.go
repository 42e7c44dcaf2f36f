package client

import (
	"context"
	"time"

	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/types"
)

// callTimeout bounds every typed wrapper call.
const callTimeout = 10 * time.Second

func (c *Client) principal() ipc.Principal {
	if c.By == "" {
		return ipc.Principal{By: "user"}
	}
	return ipc.Principal{By: c.By}
}

func (c *Client) do(op string, args, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return c.Call(ctx, op, args, result)
}

// PingInfo is the daemon.ping result.
type PingInfo struct {
	PID    int    `json:"pid"`
	Time   string `json:"time"`
	Groups int    `json:"groups"`
}

// SnapshotInfo is the debug.snapshot result.
type SnapshotInfo struct {
	UpTo   string `json:"up_to"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// Ping checks daemon liveness.
func (c *Client) Ping() (*PingInfo, error) {
	var info PingInfo
	if err := c.do(ipc.OpDaemonPing, c.principal(), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ShutdownDaemon asks the daemon to stop.
func (c *Client) ShutdownDaemon() error {
	return c.do(ipc.OpDaemonShutdown, c.principal(), nil)
}

// CreateGroup creates a working group, optionally with a first scope.
func (c *Client) CreateGroup(title, topic string, scope *types.Scope) (*types.Group, error) {
	args := ipc.GroupCreateArgs{Principal: c.principal(), Title: title, Topic: topic, Scope: scope}
	var g types.Group
	if err := c.do(ipc.OpGroupCreate, args, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns every group the daemon knows.
func (c *Client) ListGroups() ([]*types.Group, error) {
	var groups []*types.Group
	if err := c.do(ipc.OpGroupList, c.principal(), &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup returns one group with its actors.
func (c *Client) GetGroup(groupID string) (*ipc.GroupDetail, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var detail ipc.GroupDetail
	if err := c.do(ipc.OpGroupGet, args, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// UpdateGroup edits group metadata; nil fields stay untouched.
func (c *Client) UpdateGroup(groupID string, title, topic *string) (*types.Group, error) {
	args := ipc.GroupUpdateArgs{Principal: c.principal(), GroupID: groupID, Title: title, Topic: topic}
	var g types.Group
	if err := c.do(ipc.OpGroupUpdate, args, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteGroup destroys a group and its ledger. The confirmation id must
// match, so callers cannot delete by accident.
func (c *Client) DeleteGroup(groupID string) error {
	args := ipc.GroupDeleteArgs{Principal: c.principal(), GroupID: groupID, ConfirmID: groupID}
	return c.do(ipc.OpGroupDelete, args, nil)
}

// StartGroup moves a group to active and starts its enabled actors.
func (c *Client) StartGroup(groupID string) (*types.Group, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var g types.Group
	if err := c.do(ipc.OpGroupStart, args, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// StopGroup stops every actor session and parks the group.
func (c *Client) StopGroup(groupID string) (*types.Group, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var g types.Group
	if err := c.do(ipc.OpGroupStop, args, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// SetGroupState moves a group's lifecycle state directly.
func (c *Client) SetGroupState(groupID string, state types.GroupState) (*types.Group, error) {
	args := ipc.GroupSetStateArgs{Principal: c.principal(), GroupID: groupID, State: state}
	var g types.Group
	if err := c.do(ipc.OpGroupSetState, args, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// AttachScope binds a directory to a group under a key.
func (c *Client) AttachScope(groupID, key, path string) (*types.Group, error) {
	args := ipc.ScopeAttachArgs{Principal: c.principal(), GroupID: groupID, Key: key, Path: path}
	var g types.Group
	if err := c.do(ipc.OpScopeAttach, args, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// DetachScope unbinds a scope by key.
func (c *Client) DetachScope(groupID, key string) (*types.Group, error) {
	args := ipc.ScopeDetachArgs{Principal: c.principal(), GroupID: groupID, Key: key}
	var g types.Group
	if err := c.do(ipc.OpScopeDetach, args, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// AddActor adds an actor to a group. Runtime, runner, and command may
// come from a registry profile; env is private and never enters the
// ledger.
func (c *Client) AddActor(groupID, actorID, runtime, profile string, runnerKind types.RunnerKind, command, env []string) (*types.Actor, error) {
	args := ipc.ActorAddArgs{
		Principal: c.principal(),
		GroupID:   groupID,
		ActorID:   actorID,
		Runtime:   runtime,
		Runner:    runnerKind,
		Command:   command,
		Profile:   profile,
		Env:       env,
	}
	var actor types.Actor
	if err := c.do(ipc.OpActorAdd, args, &actor); err != nil {
		return nil, err
	}
	return &actor, nil
}

// UpdateActor edits an actor record; nil or empty fields stay untouched.
func (c *Client) UpdateActor(groupID, actorID string, enabled *bool, command []string, runtime, profile string) (*types.Actor, error) {
	args := ipc.ActorUpdateArgs{
		Principal: c.principal(),
		GroupID:   groupID,
		ActorID:   actorID,
		Enabled:   enabled,
		Command:   command,
		Runtime:   runtime,
		Profile:   profile,
	}
	var actor types.Actor
	if err := c.do(ipc.OpActorUpdate, args, &actor); err != nil {
		return nil, err
	}
	return &actor, nil
}

// RemoveActor stops an actor's session and removes it from the group.
func (c *Client) RemoveActor(groupID, actorID string) error {
	args := ipc.ActorRefArgs{Principal: c.principal(), GroupID: groupID, ActorID: actorID}
	return c.do(ipc.OpActorRemove, args, nil)
}

// StartActor starts an actor's session.
func (c *Client) StartActor(groupID, actorID string) (*ipc.ActorInfo, error) {
	return c.actorLifecycle(ipc.OpActorStart, groupID, actorID)
}

// StopActor stops an actor's session.
func (c *Client) StopActor(groupID, actorID string) (*ipc.ActorInfo, error) {
	return c.actorLifecycle(ipc.OpActorStop, groupID, actorID)
}

// RestartActor stops then starts an actor's session.
func (c *Client) RestartActor(groupID, actorID string) (*ipc.ActorInfo, error) {
	return c.actorLifecycle(ipc.OpActorRestart, groupID, actorID)
}

func (c *Client) actorLifecycle(op, groupID, actorID string) (*ipc.ActorInfo, error) {
	args := ipc.ActorRefArgs{Principal: c.principal(), GroupID: groupID, ActorID: actorID}
	var info ipc.ActorInfo
	if err := c.do(op, args, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListActors returns a group's actors joined with live session state.
func (c *Client) ListActors(groupID string) ([]*ipc.ActorInfo, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var actors []*ipc.ActorInfo
	if err := c.do(ipc.OpActorList, args, &actors); err != nil {
		return nil, err
	}
	return actors, nil
}

// PollActor records a headless poll and returns the caller's inbox.
func (c *Client) PollActor(groupID, actorID string) (*ipc.InboxListResult, error) {
	args := ipc.ActorRefArgs{Principal: c.principal(), GroupID: groupID, ActorID: actorID}
	var res ipc.InboxListResult
	if err := c.do(ipc.OpActorPoll, args, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetActorStatus sets a headless actor's advertised status.
func (c *Client) SetActorStatus(groupID, actorID string, status types.HeadlessStatus) (*ipc.ActorInfo, error) {
	args := ipc.ActorSetStatusArgs{Principal: c.principal(), GroupID: groupID, ActorID: actorID, Status: status}
	var info ipc.ActorInfo
	if err := c.do(ipc.OpActorSetStatus, args, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ReadLedger searches or windows a group's ledger. The principal is set
// from the client; other filter fields pass through as given.
func (c *Client) ReadLedger(args ipc.LedgerReadArgs) (*ipc.LedgerReadResult, error) {
	args.Principal = c.principal()
	var res ipc.LedgerReadResult
	if err := c.do(ipc.OpLedgerRead, args, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetEvent fetches one event by id.
func (c *Client) GetEvent(groupID, eventID string) (*types.Event, error) {
	args := ipc.LedgerGetArgs{Principal: c.principal(), GroupID: groupID, EventID: eventID}
	var ev types.Event
	if err := c.do(ipc.OpLedgerGet, args, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListInbox returns the caller's unread chat events.
func (c *Client) ListInbox(groupID string, limit int) (*ipc.InboxListResult, error) {
	args := ipc.InboxListArgs{Principal: c.principal(), GroupID: groupID, Limit: limit}
	var res ipc.InboxListResult
	if err := c.do(ipc.OpInboxList, args, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// MarkRead advances the caller's read cursor and returns the resulting
// cursor. Older cursors are a no-op.
func (c *Client) MarkRead(groupID, upTo string) (string, error) {
	args := ipc.InboxMarkReadArgs{Principal: c.principal(), GroupID: groupID, UpTo: upTo}
	var res struct {
		Cursor string `json:"cursor"`
	}
	if err := c.do(ipc.OpInboxMarkRead, args, &res); err != nil {
		return "", err
	}
	return res.Cursor, nil
}

// SendMessage commits a chat message and returns the committed event.
func (c *Client) SendMessage(groupID string, msg types.ChatMessage) (*types.Event, error) {
	args := ipc.MessageSendArgs{Principal: c.principal(), GroupID: groupID, Message: msg}
	var ev types.Event
	if err := c.do(ipc.OpMessageSend, args, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// AckMessage acknowledges an attention message.
func (c *Client) AckMessage(groupID, eventID string) (*types.Event, error) {
	args := ipc.MessageAckArgs{Principal: c.principal(), GroupID: groupID, EventID: eventID}
	var ev types.Event
	if err := c.do(ipc.OpMessageAck, args, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// PutBlob stores attachment content and returns its content address.
func (c *Client) PutBlob(groupID string, data []byte) (*ipc.BlobPutResult, error) {
	args := ipc.BlobPutArgs{Principal: c.principal(), GroupID: groupID, Data: data}
	var res ipc.BlobPutResult
	if err := c.do(ipc.OpBlobPut, args, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetSettings returns a group's effective settings.
func (c *Client) GetSettings(groupID string) (*types.Settings, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var s types.Settings
	if err := c.do(ipc.OpSettingsGet, args, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSettings replaces a group's settings.
func (c *Client) UpdateSettings(groupID string, s types.Settings) (*types.Settings, error) {
	args := ipc.SettingsUpdateArgs{Principal: c.principal(), GroupID: groupID, Settings: s}
	var out types.Settings
	if err := c.do(ipc.OpSettingsUpdate, args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAutomation returns a group's automation ruleset.
func (c *Client) GetAutomation(groupID string) (*types.Ruleset, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var rs types.Ruleset
	if err := c.do(ipc.OpAutomationGet, args, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// UpdateAutomation replaces the ruleset if expectedVersion still matches.
func (c *Client) UpdateAutomation(groupID string, rules []types.Rule, expectedVersion int) (*types.Ruleset, error) {
	args := ipc.AutomationUpdateArgs{
		Principal:       c.principal(),
		GroupID:         groupID,
		Rules:           rules,
		ExpectedVersion: expectedVersion,
	}
	var rs types.Ruleset
	if err := c.do(ipc.OpAutomationUpdate, args, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// ResetAutomation clears every automation rule.
func (c *Client) ResetAutomation(groupID string) (*types.Ruleset, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var rs types.Ruleset
	if err := c.do(ipc.OpAutomationReset, args, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// ExportBlueprint renders a group's reusable configuration as YAML.
func (c *Client) ExportBlueprint(groupID string) ([]byte, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var res ipc.BlueprintExportResult
	if err := c.do(ipc.OpBlueprintExport, args, &res); err != nil {
		return nil, err
	}
	return res.Blueprint, nil
}

// ImportBlueprint applies an exported blueprint. An empty groupID
// creates a new group.
func (c *Client) ImportBlueprint(groupID string, doc []byte) (*ipc.GroupDetail, error) {
	args := ipc.BlueprintImportArgs{Principal: c.principal(), GroupID: groupID, Blueprint: doc}
	var detail ipc.GroupDetail
	if err := c.do(ipc.OpBlueprintImport, args, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetIMBinding returns a group's messaging bridge binding, if any.
func (c *Client) GetIMBinding(groupID string) (*types.IMBinding, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var binding types.IMBinding
	if err := c.do(ipc.OpIMGet, args, &binding); err != nil {
		return nil, err
	}
	if binding.Platform == "" {
		return nil, nil
	}
	return &binding, nil
}

// SetIMBinding binds a group to a bridge channel. Bridges pass the
// one-time bind key; the local CLI may bind directly without one.
func (c *Client) SetIMBinding(groupID, platform, channelID, bindKey string) (*types.IMBinding, error) {
	args := ipc.IMSetArgs{
		Principal: c.principal(),
		GroupID:   groupID,
		Platform:  platform,
		ChannelID: channelID,
		BindKey:   bindKey,
	}
	var binding types.IMBinding
	if err := c.do(ipc.OpIMSet, args, &binding); err != nil {
		return nil, err
	}
	return &binding, nil
}

// UnsetIMBinding removes a group's bridge binding.
func (c *Client) UnsetIMBinding(groupID string) error {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	return c.do(ipc.OpIMUnset, args, nil)
}

// IssueBindKey mints a one-time key a bridge can use to bind the group.
func (c *Client) IssueBindKey(groupID string) (*types.BindKey, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var bk types.BindKey
	if err := c.do(ipc.OpIMBindKey, args, &bk); err != nil {
		return nil, err
	}
	return &bk, nil
}

// ListRuntimes returns the runtimes the daemon can launch by name.
func (c *Client) ListRuntimes() ([]types.RuntimeDescriptor, error) {
	var rts []types.RuntimeDescriptor
	if err := c.do(ipc.OpRuntimeList, c.principal(), &rts); err != nil {
		return nil, err
	}
	return rts, nil
}

// TailTerminal fetches the trailing transcript lines of a PTY actor.
func (c *Client) TailTerminal(groupID, actorID string, lines int, keepANSI bool) ([]string, error) {
	args := ipc.TerminalTailArgs{
		Principal: c.principal(),
		GroupID:   groupID,
		ActorID:   actorID,
		Lines:     lines,
		KeepANSI:  keepANSI,
	}
	var res ipc.TerminalTailResult
	if err := c.do(ipc.OpTerminalTail, args, &res); err != nil {
		return nil, err
	}
	return res.Lines, nil
}

// SnapshotGroup forces a projection snapshot and ledger compaction.
func (c *Client) SnapshotGroup(groupID string) (*SnapshotInfo, error) {
	args := ipc.GroupRefArgs{Principal: c.principal(), GroupID: groupID}
	var info SnapshotInfo
	if err := c.do(ipc.OpDebugSnapshot, args, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
