package kernel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/types"
)

// chatEntry is the projected index record for one chat.message event.
// Recipients are resolved against the actor set at commit time so the
// obligation tables stay stable when actors later change.
type chatEntry struct {
	ID            string         `json:"id"`
	By            string         `json:"by"`
	Recipients    []string       `json:"recipients"`
	Priority      types.Priority `json:"priority,omitempty"`
	ReplyRequired bool           `json:"reply_required,omitempty"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	TS            time.Time      `json:"ts"`
}

// groupState is everything the kernel derives for one group.
type groupState struct {
	Group   *types.Group   `json:"group"`
	Actors  []*types.Actor `json:"actors"` // in add order
	Ruleset types.Ruleset  `json:"ruleset"`

	Cursors map[string]string          `json:"cursors"` // principal → highest read id
	Chats   []*chatEntry               `json:"chats"`
	Acks    map[string]map[string]bool `json:"acks"`    // event id → recipient → acked
	Replies map[string]map[string]bool `json:"replies"` // event id → recipient → replied

	LastChatAt   time.Time            `json:"last_chat_at,omitempty"`
	LastNotifyAt map[string]time.Time `json:"last_notify_at,omitempty"` // target → last nudge
	Inbound      map[string]int       `json:"inbound,omitempty"`        // actor → inbound chat count

	chatByID map[string]*chatEntry
}

func newGroupState() *groupState {
	return &groupState{
		Cursors:      make(map[string]string),
		Acks:         make(map[string]map[string]bool),
		Replies:      make(map[string]map[string]bool),
		LastNotifyAt: make(map[string]time.Time),
		Inbound:      make(map[string]int),
		chatByID:     make(map[string]*chatEntry),
	}
}

func (gs *groupState) reindex() {
	gs.chatByID = make(map[string]*chatEntry, len(gs.Chats))
	for _, c := range gs.Chats {
		gs.chatByID[c.ID] = c
	}
}

// Projection is the deterministic in-memory view over group ledgers.
// Feeding the same event sequence always yields the same state, so a
// cold rebuild equals any warm state at the same commit point.
type Projection struct {
	mu           sync.RWMutex
	groups       map[string]*groupState
	unknownKinds int
}

// NewProjection returns an empty projection.
func NewProjection() *Projection {
	return &Projection{groups: make(map[string]*groupState)}
}

// Apply folds one committed event into the projection. Applying is
// total: unknown kinds are counted and logged, never fatal.
func (p *Projection) Apply(ev *types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !ev.Kind.Known() {
		p.unknownKinds++
		log.WithGroupID(ev.GroupID).Warn().
			Str("kind", string(ev.Kind)).
			Str("event_id", ev.ID).
			Msg("skipping event of unknown kind")
		return
	}

	gs := p.groups[ev.GroupID]
	if gs == nil {
		gs = newGroupState()
		p.groups[ev.GroupID] = gs
	}

	switch ev.Kind {
	case types.KindGroupCreate:
		var d types.GroupCreateData
		json.Unmarshal(ev.Data, &d)
		settings := types.DefaultSettings()
		if d.Settings != nil {
			settings = *d.Settings
		}
		gs.Group = &types.Group{
			ID:        ev.GroupID,
			Title:     d.Title,
			Topic:     d.Topic,
			State:     types.GroupActive,
			Settings:  settings,
			CreatedAt: ev.TS,
			UpdatedAt: ev.TS,
		}

	case types.KindGroupUpdate:
		if gs.Group == nil {
			return
		}
		var d types.GroupUpdateData
		json.Unmarshal(ev.Data, &d)
		if d.Title != nil {
			gs.Group.Title = *d.Title
		}
		if d.Topic != nil {
			gs.Group.Topic = *d.Topic
		}
		if d.IMBinding != nil {
			gs.Group.IMBinding = d.IMBinding
		}
		if d.ClearIMBinding {
			gs.Group.IMBinding = nil
		}
		gs.Group.UpdatedAt = ev.TS

	case types.KindGroupAttach:
		if gs.Group == nil {
			return
		}
		var sc types.Scope
		json.Unmarshal(ev.Data, &sc)
		for i, existing := range gs.Group.Scopes {
			if existing.Key == sc.Key {
				gs.Group.Scopes[i] = sc
				return
			}
		}
		gs.Group.Scopes = append(gs.Group.Scopes, sc)
		gs.Group.UpdatedAt = ev.TS

	case types.KindGroupDetach:
		if gs.Group == nil {
			return
		}
		var d types.ScopeDetachData
		json.Unmarshal(ev.Data, &d)
		kept := gs.Group.Scopes[:0]
		for _, sc := range gs.Group.Scopes {
			if sc.Key != d.Key {
				kept = append(kept, sc)
			}
		}
		gs.Group.Scopes = kept
		gs.Group.UpdatedAt = ev.TS

	case types.KindGroupStart:
		if gs.Group != nil {
			gs.Group.State = types.GroupActive
			gs.Group.UpdatedAt = ev.TS
		}

	case types.KindGroupStop:
		if gs.Group != nil {
			gs.Group.State = types.GroupStopped
			gs.Group.UpdatedAt = ev.TS
		}

	case types.KindGroupSetState:
		if gs.Group == nil {
			return
		}
		var d types.GroupSetStateData
		json.Unmarshal(ev.Data, &d)
		if types.ValidGroupState(d.State) {
			gs.Group.State = d.State
			gs.Group.UpdatedAt = ev.TS
		}

	case types.KindGroupSettingsUpdate:
		if gs.Group == nil {
			return
		}
		var s types.Settings
		if err := json.Unmarshal(ev.Data, &s); err == nil {
			gs.Group.Settings = s
			gs.Group.UpdatedAt = ev.TS
		}

	case types.KindGroupAutomationUpdate:
		var rs types.Ruleset
		if err := json.Unmarshal(ev.Data, &rs); err == nil {
			gs.Ruleset = rs
		}

	case types.KindActorAdd:
		var a types.Actor
		if err := json.Unmarshal(ev.Data, &a); err != nil || a.ID == "" {
			return
		}
		if gs.findActor(a.ID) != nil {
			return
		}
		a.GroupID = ev.GroupID
		a.CreatedAt = ev.TS
		// First actor is the foreman; later adds are peers unless the
		// group somehow has none.
		if gs.foreman() == nil {
			a.Role = types.RoleForeman
		} else {
			a.Role = types.RolePeer
		}
		gs.Actors = append(gs.Actors, &a)

	case types.KindActorUpdate:
		var d types.ActorUpdateData
		json.Unmarshal(ev.Data, &d)
		a := gs.findActor(d.ID)
		if a == nil {
			return
		}
		if d.Enabled != nil {
			a.Enabled = *d.Enabled
		}
		if len(d.Command) > 0 {
			a.Command = d.Command
		}
		if d.Runtime != "" {
			a.Runtime = d.Runtime
		}
		if d.Profile != "" {
			a.Profile = d.Profile
		}
		if d.Status != "" {
			a.Status = d.Status
		}

	case types.KindActorStart, types.KindActorRestart:
		var d types.ActorRefData
		json.Unmarshal(ev.Data, &d)
		if a := gs.findActor(d.ID); a != nil {
			a.Running = true
		}

	case types.KindActorStop:
		var d types.ActorRefData
		json.Unmarshal(ev.Data, &d)
		if a := gs.findActor(d.ID); a != nil {
			a.Running = false
		}

	case types.KindActorRemove:
		var d types.ActorRefData
		json.Unmarshal(ev.Data, &d)
		removedForeman := false
		kept := gs.Actors[:0]
		for _, a := range gs.Actors {
			if a.ID == d.ID {
				removedForeman = a.Role == types.RoleForeman
				continue
			}
			kept = append(kept, a)
		}
		gs.Actors = kept
		// Promotion passes to the oldest remaining actor.
		if removedForeman && len(gs.Actors) > 0 {
			gs.Actors[0].Role = types.RoleForeman
		}

	case types.KindChatMessage:
		var m types.ChatMessage
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			return
		}
		recipients, _ := gs.resolveRecipients(&m, ev.By)
		entry := &chatEntry{
			ID:            ev.ID,
			By:            ev.By,
			Recipients:    recipients,
			Priority:      m.Priority,
			ReplyRequired: m.ReplyRequired,
			ReplyTo:       m.ReplyTo,
			TS:            ev.TS,
		}
		gs.Chats = append(gs.Chats, entry)
		gs.chatByID[ev.ID] = entry
		gs.LastChatAt = ev.TS
		for _, r := range recipients {
			if r != types.AddrUser {
				gs.Inbound[r]++
			}
		}
		if m.Priority == types.PriorityAttention {
			acks := make(map[string]bool, len(recipients))
			for _, r := range recipients {
				acks[r] = false
			}
			gs.Acks[ev.ID] = acks
		}
		if m.ReplyRequired {
			replies := make(map[string]bool, len(recipients))
			for _, r := range recipients {
				replies[r] = false
			}
			gs.Replies[ev.ID] = replies
		}
		// A reply from an addressee satisfies the obligation; one-way
		// and irreversible.
		if m.ReplyTo != "" {
			if pending, ok := gs.Replies[m.ReplyTo]; ok {
				if _, addressed := pending[ev.By]; addressed {
					pending[ev.By] = true
				}
			}
		}

	case types.KindChatRead:
		var r types.ChatRead
		if err := json.Unmarshal(ev.Data, &r); err != nil {
			return
		}
		// Cursors only move forward.
		if r.UpTo > gs.Cursors[r.Principal] {
			gs.Cursors[r.Principal] = r.UpTo
		}

	case types.KindChatAck:
		var a types.ChatAck
		if err := json.Unmarshal(ev.Data, &a); err != nil {
			return
		}
		if pending, ok := gs.Acks[a.EventID]; ok {
			if _, addressed := pending[ev.By]; addressed {
				pending[ev.By] = true
			}
		}

	case types.KindSystemNotify:
		var n types.SystemNotify
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			return
		}
		gs.LastNotifyAt[n.Target] = ev.TS

	case types.KindSystemNotifyAck, types.KindSnapshot, types.KindLedgerRecovered:
		// Snapshot restore goes through Restore; the marker itself and
		// recovery notes carry no projected state.
	}
}

func (gs *groupState) findActor(id string) *types.Actor {
	for _, a := range gs.Actors {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (gs *groupState) foreman() *types.Actor {
	for _, a := range gs.Actors {
		if a.Role == types.RoleForeman {
			return a
		}
	}
	return nil
}

// resolveRecipients expands a to list against the current actor set.
// The sender never receives their own message. Unknown explicit ids are
// returned separately; they never abort the commit.
func (gs *groupState) resolveRecipients(m *types.ChatMessage, by string) (recipients, unknown []string) {
	seen := make(map[string]bool)
	add := func(id string) {
		if id != by && !seen[id] {
			seen[id] = true
			recipients = append(recipients, id)
		}
	}
	addActors := func(peersOnly bool) {
		for _, a := range gs.Actors {
			if !a.Enabled {
				continue
			}
			if peersOnly && a.Role == types.RoleForeman {
				continue
			}
			add(a.ID)
		}
	}

	if len(m.To) == 0 {
		addActors(false)
		add(types.AddrUser)
		return recipients, nil
	}
	for _, tok := range m.To {
		switch tok {
		case types.AddrAll:
			addActors(false)
		case types.AddrPeers:
			addActors(true)
		case types.AddrForeman:
			if f := gs.foreman(); f != nil {
				add(f.ID)
			}
		case types.AddrUser:
			add(types.AddrUser)
		default:
			if gs.findActor(tok) != nil {
				add(tok)
			} else {
				unknown = append(unknown, tok)
			}
		}
	}
	return recipients, unknown
}
