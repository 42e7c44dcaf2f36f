package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventVersion is the envelope version written to every ledger line.
const EventVersion = 1

// Event is the immutable envelope appended to a group ledger. Data holds
// the kind-specific payload; unknown fields inside Data are preserved on
// round-trip.
type Event struct {
	V        int             `json:"v"`
	ID       string          `json:"id"`
	TS       time.Time       `json:"ts"`
	Kind     EventKind       `json:"kind"`
	GroupID  string          `json:"group_id"`
	ScopeKey string          `json:"scope_key,omitempty"`
	By       string          `json:"by"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// EventKind identifies the payload contract of an event.
type EventKind string

const (
	KindGroupCreate           EventKind = "group.create"
	KindGroupUpdate           EventKind = "group.update"
	KindGroupAttach           EventKind = "group.attach"
	KindGroupDetach           EventKind = "group.detach"
	KindGroupStart            EventKind = "group.start"
	KindGroupStop             EventKind = "group.stop"
	KindGroupSetState         EventKind = "group.set_state"
	KindGroupSettingsUpdate   EventKind = "group.settings_update"
	KindGroupAutomationUpdate EventKind = "group.automation_update"

	KindActorAdd     EventKind = "actor.add"
	KindActorUpdate  EventKind = "actor.update"
	KindActorStart   EventKind = "actor.start"
	KindActorStop    EventKind = "actor.stop"
	KindActorRestart EventKind = "actor.restart"
	KindActorRemove  EventKind = "actor.remove"

	KindChatMessage EventKind = "chat.message"
	KindChatRead    EventKind = "chat.read"
	KindChatAck     EventKind = "chat.ack"

	KindSystemNotify    EventKind = "system.notify"
	KindSystemNotifyAck EventKind = "system.notify_ack"

	KindSnapshot        EventKind = "snapshot"
	KindLedgerRecovered EventKind = "ledger.recovered"
)

// knownKinds is the closed set of event kinds this build understands.
// Events with other kinds are skipped during projection but never rejected
// on read (forward compatibility).
var knownKinds = map[EventKind]bool{
	KindGroupCreate: true, KindGroupUpdate: true, KindGroupAttach: true,
	KindGroupDetach: true, KindGroupStart: true, KindGroupStop: true,
	KindGroupSetState: true, KindGroupSettingsUpdate: true,
	KindGroupAutomationUpdate: true,
	KindActorAdd:              true, KindActorUpdate: true, KindActorStart: true,
	KindActorStop: true, KindActorRestart: true, KindActorRemove: true,
	KindChatMessage: true, KindChatRead: true, KindChatAck: true,
	KindSystemNotify: true, KindSystemNotifyAck: true,
	KindSnapshot: true, KindLedgerRecovered: true,
}

// Known reports whether k is part of the closed kind set.
func (k EventKind) Known() bool { return knownKinds[k] }

// CarriesObligation reports whether events of this kind must be durable
// before the append returns. Lifecycle and chat kinds always fsync.
func (k EventKind) CarriesObligation() bool {
	switch k {
	case KindChatMessage, KindChatAck, KindChatRead,
		KindGroupSetState, KindGroupStart, KindGroupStop,
		KindActorAdd, KindActorRemove, KindActorStart, KindActorStop, KindActorRestart,
		KindSnapshot, KindLedgerRecovered:
		return true
	}
	return false
}

// FormatEventID renders a group-local sequence number as an event id.
// Ids are zero-padded so lexicographic order matches numeric order.
func FormatEventID(seq uint64) string {
	return fmt.Sprintf("e-%010d", seq)
}

// ParseEventID extracts the sequence number from an event id.
func ParseEventID(id string) (uint64, error) {
	s, ok := strings.CutPrefix(id, "e-")
	if !ok {
		return 0, fmt.Errorf("malformed event id: %q", id)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed event id: %q", id)
	}
	return n, nil
}

// MessageFormat is the text format of a chat message body.
type MessageFormat string

const (
	FormatPlain    MessageFormat = "plain"
	FormatMarkdown MessageFormat = "markdown"
)

// Priority of a chat message. Attention messages impose an ack obligation
// on every recipient.
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityAttention Priority = "attention"
)

// Addressing tokens recognized in ChatMessage.To. An empty To list means
// broadcast to all enabled actors plus the user.
const (
	AddrUser    = "user"
	AddrAll     = "@all"
	AddrPeers   = "@peers"
	AddrForeman = "@foreman"
)

// Reserved principals that appear in Event.By alongside actor ids.
const (
	ByUser       = "user"
	ByAutomation = "automation"
	ByDaemon     = "daemon"
)

// Attachment references blob content by hash; bytes are never embedded in
// the ledger line.
type Attachment struct {
	SHA256    string `json:"sha256"`
	Bytes     int64  `json:"bytes"`
	Filename  string `json:"filename,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// ChatMessage is the payload of a chat.message event.
type ChatMessage struct {
	Text          string        `json:"text"`
	Format        MessageFormat `json:"format,omitempty"`
	To            []string      `json:"to,omitempty"`
	ReplyTo       string        `json:"reply_to,omitempty"`
	QuoteText     string        `json:"quote_text,omitempty"`
	Attachments   []Attachment  `json:"attachments,omitempty"`
	Priority      Priority      `json:"priority,omitempty"`
	ReplyRequired bool          `json:"reply_required,omitempty"`
}

// Validate checks the fields the daemon relies on. Unknown recipient ids
// are not an error here; resolution happens at delivery time.
func (m *ChatMessage) Validate() error {
	if m.Text == "" && len(m.Attachments) == 0 {
		return E(ErrInvalidPayload, "chat message requires text or attachments")
	}
	switch m.Format {
	case "", FormatPlain, FormatMarkdown:
	default:
		return E(ErrInvalidPayload, "unknown message format %q", m.Format)
	}
	switch m.Priority {
	case "", PriorityNormal, PriorityAttention:
	default:
		return E(ErrInvalidPayload, "unknown priority %q", m.Priority)
	}
	for _, a := range m.Attachments {
		if len(a.SHA256) != 64 {
			return E(ErrInvalidPayload, "attachment sha256 must be 64 hex chars")
		}
	}
	return nil
}

// ChatRead is the payload of a chat.read event: the principal has read
// everything up to and including UpTo.
type ChatRead struct {
	Principal string `json:"principal"`
	UpTo      string `json:"up_to"`
}

// ChatAck is the payload of a chat.ack event acknowledging an attention
// message.
type ChatAck struct {
	EventID string `json:"event_id"`
}

// SystemNotify is the payload of a system.notify event produced by nudge
// policies and automation rules. Reasons for the same recipient coalesce
// into one event.
type SystemNotify struct {
	Reasons  []string `json:"reasons"`
	Target   string   `json:"target"`
	Text     string   `json:"text,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	EventIDs []string `json:"event_ids,omitempty"`
}

// Stable reason codes carried in SystemNotify.Reasons.
const (
	ReasonUnread        = "unread"
	ReasonReplyRequired = "reply_required"
	ReasonAttentionAck  = "attention_ack"
	ReasonActorIdle     = "actor_idle"
	ReasonKeepalive     = "keepalive"
	ReasonSilence       = "silence"
	ReasonHelp          = "help"
	ReasonRule          = "rule"
	ReasonDelivery      = "delivery"
)

// GroupState is the lifecycle state of a working group.
type GroupState string

const (
	GroupActive  GroupState = "active"
	GroupIdle    GroupState = "idle"
	GroupPaused  GroupState = "paused"
	GroupStopped GroupState = "stopped"
)

// ValidGroupState reports whether s is a recognized lifecycle state.
func ValidGroupState(s GroupState) bool {
	switch s {
	case GroupActive, GroupIdle, GroupPaused, GroupStopped:
		return true
	}
	return false
}

// Scope is a filesystem directory bound to a group.
type Scope struct {
	Key  string `json:"key"`
	Path string `json:"path"`
}

// Group is the projected record of a working group.
type Group struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Topic     string     `json:"topic,omitempty"`
	State     GroupState `json:"state"`
	Scopes    []Scope    `json:"scopes,omitempty"`
	Settings  Settings   `json:"settings"`
	IMBinding *IMBinding `json:"im_binding,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ActorRole distinguishes the unique foreman from peers.
type ActorRole string

const (
	RoleForeman ActorRole = "foreman"
	RolePeer    ActorRole = "peer"
)

// RunnerKind selects how an actor's session is owned.
type RunnerKind string

const (
	RunnerPTY      RunnerKind = "pty"
	RunnerHeadless RunnerKind = "headless"
)

// HeadlessStatus is the settable liveness state of a headless actor.
type HeadlessStatus string

const (
	HeadlessOnline  HeadlessStatus = "online"
	HeadlessBusy    HeadlessStatus = "busy"
	HeadlessOffline HeadlessStatus = "offline"
)

// Actor is the projected record of a managed agent session.
type Actor struct {
	GroupID   string         `json:"group_id"`
	ID        string         `json:"id"`
	Role      ActorRole      `json:"role"`
	Runtime   string         `json:"runtime"`
	Runner    RunnerKind     `json:"runner"`
	Command   []string       `json:"command,omitempty"`
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Profile   string         `json:"profile,omitempty"`
	Status    HeadlessStatus `json:"status,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ActorProfile is a reusable template for actor creation, stored in the
// registry. Env here is the non-secret part; private env lives under the
// runtime home and never enters the ledger.
type ActorProfile struct {
	Name    string     `json:"name"`
	Runtime string     `json:"runtime"`
	Runner  RunnerKind `json:"runner"`
	Command []string   `json:"command"`
	Env     []string   `json:"env,omitempty"`
}

// RuntimeDescriptor maps a symbolic runtime name to its launch convention.
// Adding a runtime is a table entry, not a new dispatch path.
type RuntimeDescriptor struct {
	Name      string   `json:"name"`
	Command   []string `json:"command"`
	SubmitKey string   `json:"submit_key"`
}

// BuiltinRuntimes are the runtimes the daemon knows how to launch without
// an explicit command.
var BuiltinRuntimes = []RuntimeDescriptor{
	{Name: "claude", Command: []string{"claude"}, SubmitKey: "\r"},
	{Name: "codex", Command: []string{"codex"}, SubmitKey: "\r"},
	{Name: "custom", Command: nil, SubmitKey: "\n"},
}

// LookupRuntime returns the descriptor for a symbolic runtime name.
func LookupRuntime(name string) (RuntimeDescriptor, bool) {
	for _, rt := range BuiltinRuntimes {
		if rt.Name == name {
			return rt, true
		}
	}
	return RuntimeDescriptor{}, false
}

// IMBinding links a group to an external messaging bridge.
type IMBinding struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	BoundAt   time.Time `json:"bound_at"`
}

// BindKey is a one-time key that authorizes an IM bridge to bind a group.
type BindKey struct {
	Key       string    `json:"key"`
	GroupID   string    `json:"group_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BindKeyTTL is how long an issued bind key stays valid.
const BindKeyTTL = 10 * time.Minute
