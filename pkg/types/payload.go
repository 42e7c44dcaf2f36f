package types

import "encoding/json"

// ValidatePayload checks an event payload against its kind's contract
// before it is committed. Unknown kinds are rejected at append time (the
// daemon only writes kinds it knows); tolerance for unknown kinds applies
// to reading, not writing.
func ValidatePayload(kind EventKind, data json.RawMessage) error {
	if !kind.Known() {
		return E(ErrInvalidPayload, "unknown event kind %q", kind)
	}
	switch kind {
	case KindChatMessage:
		var m ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return E(ErrInvalidPayload, "chat.message: %v", err)
		}
		return m.Validate()
	case KindChatRead:
		var r ChatRead
		if err := json.Unmarshal(data, &r); err != nil {
			return E(ErrInvalidPayload, "chat.read: %v", err)
		}
		if r.Principal == "" || r.UpTo == "" {
			return E(ErrInvalidPayload, "chat.read requires principal and up_to")
		}
		if _, err := ParseEventID(r.UpTo); err != nil {
			return E(ErrInvalidPayload, "chat.read: %v", err)
		}
	case KindChatAck, KindSystemNotifyAck:
		var a ChatAck
		if err := json.Unmarshal(data, &a); err != nil {
			return E(ErrInvalidPayload, "%s: %v", kind, err)
		}
		if a.EventID == "" {
			return E(ErrInvalidPayload, "%s requires event_id", kind)
		}
	case KindSystemNotify:
		var n SystemNotify
		if err := json.Unmarshal(data, &n); err != nil {
			return E(ErrInvalidPayload, "system.notify: %v", err)
		}
		if len(n.Reasons) == 0 || n.Target == "" {
			return E(ErrInvalidPayload, "system.notify requires reasons and target")
		}
	case KindGroupSetState:
		var p struct {
			State GroupState `json:"state"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return E(ErrInvalidPayload, "group.set_state: %v", err)
		}
		if !ValidGroupState(p.State) {
			return E(ErrInvalidPayload, "unknown group state %q", p.State)
		}
	case KindGroupAutomationUpdate:
		var rs Ruleset
		if err := json.Unmarshal(data, &rs); err != nil {
			return E(ErrInvalidPayload, "group.automation_update: %v", err)
		}
		return rs.Validate()
	case KindActorAdd:
		var a Actor
		if err := json.Unmarshal(data, &a); err != nil {
			return E(ErrInvalidPayload, "actor.add: %v", err)
		}
		if a.ID == "" {
			return E(ErrInvalidPayload, "actor.add requires id")
		}
		switch a.Runner {
		case RunnerPTY, RunnerHeadless:
		default:
			return E(ErrInvalidPayload, "unknown runner %q", a.Runner)
		}
	default:
		// Remaining kinds carry free-form or empty payloads; the envelope
		// fields are enough.
		if len(data) > 0 && !json.Valid(data) {
			return E(ErrInvalidPayload, "%s: payload is not valid JSON", kind)
		}
	}
	return nil
}
