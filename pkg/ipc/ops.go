package ipc

import (
	"time"

	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/runner"
	"github.com/cccc-dev/cccc/pkg/types"
)

// Operation names. The set is closed: every port speaks exactly these.
const (
	OpGroupCreate   = "group.create"
	OpGroupList     = "group.list"
	OpGroupGet      = "group.get"
	OpGroupUpdate   = "group.update"
	OpGroupDelete   = "group.delete"
	OpGroupStart    = "group.start"
	OpGroupStop     = "group.stop"
	OpGroupSetState = "group.set_state"

	OpScopeAttach = "scope.attach"
	OpScopeDetach = "scope.detach"

	OpActorAdd       = "actor.add"
	OpActorUpdate    = "actor.update"
	OpActorRemove    = "actor.remove"
	OpActorStart     = "actor.start"
	OpActorStop      = "actor.stop"
	OpActorRestart   = "actor.restart"
	OpActorList      = "actor.list"
	OpActorPoll      = "actor.poll"
	OpActorSetStatus = "actor.set_status"

	OpLedgerRead = "ledger.read"
	OpLedgerGet  = "ledger.get"

	OpInboxList     = "inbox.list"
	OpInboxMarkRead = "inbox.mark_read"

	OpMessageSend = "message.send"
	OpMessageAck  = "message.ack"

	OpBlobPut = "blob.put"

	OpSettingsGet    = "settings.get"
	OpSettingsUpdate = "settings.update"

	OpAutomationGet    = "automation.get"
	OpAutomationUpdate = "automation.update"
	OpAutomationReset  = "automation.reset"

	OpBlueprintExport = "blueprint.export"
	OpBlueprintImport = "blueprint.import"

	OpIMGet     = "im.get"
	OpIMSet     = "im.set"
	OpIMUnset   = "im.unset"
	OpIMBindKey = "im.bind_key"

	OpRuntimeList  = "runtime.list"
	OpTerminalTail = "terminal.tail"

	OpDebugSnapshot  = "debug.snapshot"
	OpDaemonPing     = "daemon.ping"
	OpDaemonShutdown = "daemon.shutdown"
)

// Principal identifies the caller on every request. Ports set it from
// their own authentication; the daemon never infers it.
type Principal struct {
	By string `json:"by"` // "user" or an actor id
}

// GroupCreateArgs creates a group, optionally attaching a first scope.
type GroupCreateArgs struct {
	Principal
	Title    string          `json:"title,omitempty"`
	Topic    string          `json:"topic,omitempty"`
	Settings *types.Settings `json:"settings,omitempty"`
	Scope    *types.Scope    `json:"scope,omitempty"`
}

// GroupRefArgs addresses one group.
type GroupRefArgs struct {
	Principal
	GroupID string `json:"group_id"`
}

// GroupUpdateArgs edits group metadata.
type GroupUpdateArgs struct {
	Principal
	GroupID string  `json:"group_id"`
	Title   *string `json:"title,omitempty"`
	Topic   *string `json:"topic,omitempty"`
}

// GroupDeleteArgs destroys a group; ConfirmID must repeat the id.
type GroupDeleteArgs struct {
	Principal
	GroupID   string `json:"group_id"`
	ConfirmID string `json:"confirm_id"`
}

// GroupSetStateArgs moves a group's lifecycle state.
type GroupSetStateArgs struct {
	Principal
	GroupID string           `json:"group_id"`
	State   types.GroupState `json:"state"`
}

// GroupDetail is the group.get result: the group plus its actors.
type GroupDetail struct {
	Group  *types.Group   `json:"group"`
	Actors []*types.Actor `json:"actors,omitempty"`
}

// ScopeAttachArgs binds a directory to a group.
type ScopeAttachArgs struct {
	Principal
	GroupID string `json:"group_id"`
	Key     string `json:"key"`
	Path    string `json:"path"`
}

// ScopeDetachArgs unbinds a scope by key.
type ScopeDetachArgs struct {
	Principal
	GroupID string `json:"group_id"`
	Key     string `json:"key"`
}

// ActorAddArgs adds an actor, directly or from a profile.
type ActorAddArgs struct {
	Principal
	GroupID string           `json:"group_id"`
	ActorID string           `json:"actor_id"`
	Runtime string           `json:"runtime,omitempty"`
	Runner  types.RunnerKind `json:"runner,omitempty"`
	Command []string         `json:"command,omitempty"`
	Profile string           `json:"profile,omitempty"`
	Env     []string         `json:"env,omitempty"` // private; never enters the ledger
}

// ActorRefArgs addresses one actor.
type ActorRefArgs struct {
	Principal
	GroupID string `json:"group_id"`
	ActorID string `json:"actor_id"`
}

// ActorUpdateArgs edits an actor record.
type ActorUpdateArgs struct {
	Principal
	GroupID string   `json:"group_id"`
	ActorID string   `json:"actor_id"`
	Enabled *bool    `json:"enabled,omitempty"`
	Command []string `json:"command,omitempty"`
	Runtime string   `json:"runtime,omitempty"`
	Profile string   `json:"profile,omitempty"`
}

// ActorSetStatusArgs sets a headless actor's advertised status.
type ActorSetStatusArgs struct {
	Principal
	GroupID string               `json:"group_id"`
	ActorID string               `json:"actor_id"`
	Status  types.HeadlessStatus `json:"status"`
}

// ActorInfo is an actor record joined with its live session state.
type ActorInfo struct {
	types.Actor
	SessionState runner.State         `json:"session_state"`
	Status       types.HeadlessStatus `json:"status,omitempty"`
	LastOutputAt time.Time            `json:"last_output_at,omitempty"`
}

// LedgerReadArgs searches or windows a group's ledger.
type LedgerReadArgs struct {
	Principal
	GroupID string            `json:"group_id"`
	Kinds   []types.EventKind `json:"kinds,omitempty"`
	FromID  string            `json:"from_id,omitempty"`
	ToID    string            `json:"to_id,omitempty"`
	Around  string            `json:"around,omitempty"`
	Before  int               `json:"before,omitempty"`
	After   int               `json:"after,omitempty"`
	Substr  string            `json:"substr,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// LedgerReadResult carries events plus window continuation flags.
type LedgerReadResult struct {
	Events     []*types.Event `json:"events"`
	MoreBefore bool           `json:"more_before,omitempty"`
	MoreAfter  bool           `json:"more_after,omitempty"`
}

// LedgerGetArgs fetches one event by id.
type LedgerGetArgs struct {
	Principal
	GroupID string `json:"group_id"`
	EventID string `json:"event_id"`
}

// InboxListArgs lists unread chat events for the caller.
type InboxListArgs struct {
	Principal
	GroupID string `json:"group_id"`
	Limit   int    `json:"limit,omitempty"`
}

// InboxListResult pairs inbox entries with their full events.
type InboxListResult struct {
	Items  []kernel.InboxItem `json:"items"`
	Events []*types.Event     `json:"events,omitempty"`
}

// InboxMarkReadArgs advances the caller's read cursor. Idempotent and
// monotone: an older UpTo is a no-op.
type InboxMarkReadArgs struct {
	Principal
	GroupID string `json:"group_id"`
	UpTo    string `json:"up_to"`
}

// MessageSendArgs commits a chat message. Replying is sending with
// ReplyTo set.
type MessageSendArgs struct {
	Principal
	GroupID string            `json:"group_id"`
	Message types.ChatMessage `json:"message"`
}

// MessageAckArgs acknowledges an attention message.
type MessageAckArgs struct {
	Principal
	GroupID string `json:"group_id"`
	EventID string `json:"event_id"`
}

// BlobPutArgs stores attachment content (base64 in JSON transit).
type BlobPutArgs struct {
	Principal
	GroupID string `json:"group_id"`
	Data    []byte `json:"data"`
}

// BlobPutResult returns the content address.
type BlobPutResult struct {
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// SettingsUpdateArgs replaces a group's settings.
type SettingsUpdateArgs struct {
	Principal
	GroupID  string         `json:"group_id"`
	Settings types.Settings `json:"settings"`
}

// AutomationUpdateArgs replaces a ruleset with compare-and-set.
type AutomationUpdateArgs struct {
	Principal
	GroupID         string       `json:"group_id"`
	Rules           []types.Rule `json:"rules"`
	ExpectedVersion int          `json:"expected_version"`
}

// IMSetArgs binds a group to a messaging bridge channel.
type IMSetArgs struct {
	Principal
	GroupID   string `json:"group_id"`
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	BindKey   string `json:"bind_key,omitempty"`
}

// TerminalTailArgs fetches an actor's trailing transcript lines.
type TerminalTailArgs struct {
	Principal
	GroupID  string `json:"group_id"`
	ActorID  string `json:"actor_id"`
	Lines    int    `json:"lines,omitempty"`
	KeepANSI bool   `json:"keep_ansi,omitempty"`
}

// TerminalTailResult carries the captured lines.
type TerminalTailResult struct {
	Lines []string `json:"lines"`
}

// BlueprintImportArgs applies an exported blueprint. An empty GroupID
// creates a new group; a set one must name a group with nothing in it
// yet.
type BlueprintImportArgs struct {
	Principal
	GroupID   string `json:"group_id,omitempty"`
	Blueprint []byte `json:"blueprint"` // YAML document
}

// BlueprintExportResult carries the rendered YAML document.
type BlueprintExportResult struct {
	Blueprint []byte `json:"blueprint"`
}

// SubscribeFilter narrows a ledger subscription. FromID requests a
// catch-up replay of committed events before going live.
type SubscribeFilter struct {
	GroupID string            `json:"group_id,omitempty"`
	Kinds   []types.EventKind `json:"kinds,omitempty"`
	FromID  string            `json:"from_id,omitempty"`
}
