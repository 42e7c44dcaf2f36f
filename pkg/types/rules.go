package types

import "time"

// TriggerKind selects when a rule fires.
type TriggerKind string

const (
	TriggerEverySeconds TriggerKind = "every_seconds"
	TriggerCron         TriggerKind = "cron"
	TriggerAt           TriggerKind = "at"
)

// Trigger is the schedule of a rule. Exactly one of Seconds, Cron, At is
// meaningful, selected by Kind.
type Trigger struct {
	Kind    TriggerKind `json:"kind"`
	Seconds int         `json:"seconds,omitempty"`
	Cron    string      `json:"cron,omitempty"`
	At      time.Time   `json:"at,omitempty"`
}

// ActionKind selects what a rule does when it fires.
type ActionKind string

const (
	ActionNotify       ActionKind = "notify"
	ActionGroupState   ActionKind = "group_state"
	ActionActorControl ActionKind = "actor_control"
)

// ActorControlOp is the lifecycle operation an actor_control action
// performs.
type ActorControlOp string

const (
	ControlStart   ActorControlOp = "start"
	ControlStop    ActorControlOp = "stop"
	ControlRestart ActorControlOp = "restart"
)

// Action is the effect of a rule.
type Action struct {
	Kind       ActionKind     `json:"kind"`
	Recipients []string       `json:"recipients,omitempty"`
	Text       string         `json:"text,omitempty"`
	State      GroupState     `json:"state,omitempty"`
	Op         ActorControlOp `json:"op,omitempty"`
	ActorIDs   []string       `json:"actor_ids,omitempty"`
}

// Rule is one user-defined automation entry.
type Rule struct {
	ID       string            `json:"id"`
	Trigger  Trigger           `json:"trigger"`
	Action   Action            `json:"action"`
	Enabled  bool              `json:"enabled"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Ruleset is the versioned list of rules for a group. Updates are
// compare-and-set on Version.
type Ruleset struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules,omitempty"`
}

// Validate rejects malformed rules. group_state and actor_control are
// restricted to one-shot at triggers so a recurring rule cannot wedge a
// group.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return E(ErrInvalidPayload, "rule id required")
	}
	switch r.Trigger.Kind {
	case TriggerEverySeconds:
		if r.Trigger.Seconds <= 0 {
			return E(ErrInvalidPayload, "rule %s: every_seconds requires a positive interval", r.ID)
		}
	case TriggerCron:
		if r.Trigger.Cron == "" {
			return E(ErrInvalidPayload, "rule %s: cron expression required", r.ID)
		}
	case TriggerAt:
		if r.Trigger.At.IsZero() {
			return E(ErrInvalidPayload, "rule %s: at timestamp required", r.ID)
		}
	default:
		return E(ErrInvalidPayload, "rule %s: unknown trigger kind %q", r.ID, r.Trigger.Kind)
	}
	switch r.Action.Kind {
	case ActionNotify:
		if r.Action.Text == "" {
			return E(ErrInvalidPayload, "rule %s: notify requires text", r.ID)
		}
	case ActionGroupState:
		if r.Trigger.Kind != TriggerAt {
			return E(ErrInvalidPayload, "rule %s: group_state is only allowed on at triggers", r.ID)
		}
		if !ValidGroupState(r.Action.State) {
			return E(ErrInvalidPayload, "rule %s: unknown group state %q", r.ID, r.Action.State)
		}
	case ActionActorControl:
		if r.Trigger.Kind != TriggerAt {
			return E(ErrInvalidPayload, "rule %s: actor_control is only allowed on at triggers", r.ID)
		}
		switch r.Action.Op {
		case ControlStart, ControlStop, ControlRestart:
		default:
			return E(ErrInvalidPayload, "rule %s: unknown actor_control op %q", r.ID, r.Action.Op)
		}
		if len(r.Action.ActorIDs) == 0 {
			return E(ErrInvalidPayload, "rule %s: actor_control requires actor ids", r.ID)
		}
	default:
		return E(ErrInvalidPayload, "rule %s: unknown action kind %q", r.ID, r.Action.Kind)
	}
	return nil
}

// Validate checks every rule and rejects duplicate ids.
func (rs *Ruleset) Validate() error {
	seen := make(map[string]bool, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if seen[r.ID] {
			return E(ErrInvalidPayload, "duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}
