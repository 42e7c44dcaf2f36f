package kernel

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/cccc-dev/cccc/pkg/types"
)

// InboxItem is one unread chat event for a principal.
type InboxItem struct {
	EventID       string         `json:"event_id"`
	From          string         `json:"from"`
	Priority      types.Priority `json:"priority,omitempty"`
	ReplyRequired bool           `json:"reply_required,omitempty"`
	TS            time.Time      `json:"ts"`
}

// Obligation is one unsatisfied reply or ack requirement.
type Obligation struct {
	EventID   string    `json:"event_id"`
	Recipient string    `json:"recipient"`
	Since     time.Time `json:"since"`
}

// Group returns a copy of the projected group record, or nil.
func (p *Projection) Group(groupID string) *types.Group {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil || gs.Group == nil {
		return nil
	}
	g := *gs.Group
	g.Scopes = append([]types.Scope(nil), gs.Group.Scopes...)
	return &g
}

// Groups returns all projected groups ordered by creation time.
func (p *Projection) Groups() []*types.Group {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*types.Group
	for _, gs := range p.groups {
		if gs.Group != nil {
			g := *gs.Group
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Actor returns a copy of one actor record, or nil.
func (p *Projection) Actor(groupID, actorID string) *types.Actor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return nil
	}
	a := gs.findActor(actorID)
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// Actors returns copies of a group's actors in add order.
func (p *Projection) Actors(groupID string) []*types.Actor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return nil
	}
	out := make([]*types.Actor, 0, len(gs.Actors))
	for _, a := range gs.Actors {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// Foreman returns the group's foreman, or nil.
func (p *Projection) Foreman(groupID string) *types.Actor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return nil
	}
	f := gs.foreman()
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

// Cursor returns the highest event id a principal has read, or "".
func (p *Projection) Cursor(groupID, principal string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return ""
	}
	return gs.Cursors[principal]
}

// Inbox returns chat events addressed to principal with ids past its
// read cursor, oldest first. limit <= 0 means no limit.
func (p *Projection) Inbox(groupID, principal string, limit int) []InboxItem {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return nil
	}
	cursor := gs.Cursors[principal]
	var out []InboxItem
	for _, c := range gs.Chats {
		if c.ID <= cursor {
			continue
		}
		for _, r := range c.Recipients {
			if r == principal {
				out = append(out, InboxItem{
					EventID:       c.ID,
					From:          c.By,
					Priority:      c.Priority,
					ReplyRequired: c.ReplyRequired,
					TS:            c.TS,
				})
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Acked reports whether recipient has acknowledged an attention event.
func (p *Projection) Acked(groupID, eventID, recipient string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	return gs != nil && gs.Acks[eventID][recipient]
}

// Replied reports whether recipient has satisfied a reply obligation.
func (p *Projection) Replied(groupID, eventID, recipient string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	return gs != nil && gs.Replies[eventID][recipient]
}

// PendingAcks returns every unacknowledged attention obligation in the
// group, ordered by event id then recipient.
func (p *Projection) PendingAcks(groupID string) []Obligation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pending(groupID, func(gs *groupState) map[string]map[string]bool { return gs.Acks })
}

// PendingReplies returns every unsatisfied reply obligation in the
// group, ordered by event id then recipient.
func (p *Projection) PendingReplies(groupID string) []Obligation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pending(groupID, func(gs *groupState) map[string]map[string]bool { return gs.Replies })
}

func (p *Projection) pending(groupID string, table func(*groupState) map[string]map[string]bool) []Obligation {
	gs := p.groups[groupID]
	if gs == nil {
		return nil
	}
	var out []Obligation
	for eventID, recipients := range table(gs) {
		since := time.Time{}
		if c := gs.chatByID[eventID]; c != nil {
			since = c.TS
		}
		for r, done := range recipients {
			if !done {
				out = append(out, Obligation{EventID: eventID, Recipient: r, Since: since})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		return out[i].Recipient < out[j].Recipient
	})
	return out
}

// Ruleset returns the group's automation ruleset.
func (p *Projection) Ruleset(groupID string) types.Ruleset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return types.Ruleset{}
	}
	return gs.Ruleset
}

// LastChatAt returns when the group last saw a chat message.
func (p *Projection) LastChatAt(groupID string) time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return time.Time{}
	}
	return gs.LastChatAt
}

// LastNotifyAt returns when a target last received a system notify.
func (p *Projection) LastNotifyAt(groupID, target string) time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return time.Time{}
	}
	return gs.LastNotifyAt[target]
}

// InboundCount returns how many chat messages have been addressed to an
// actor over the group's lifetime.
func (p *Projection) InboundCount(groupID, actorID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return 0
	}
	return gs.Inbound[actorID]
}

// ResolveRecipients expands a message's to list for delivery. Unknown
// explicit ids come back separately and never abort the commit.
func (p *Projection) ResolveRecipients(groupID string, m *types.ChatMessage, by string) (recipients, unknown []string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return nil, nil
	}
	return gs.resolveRecipients(m, by)
}

// UnknownKinds returns how many events were skipped for carrying a kind
// this build does not understand.
func (p *Projection) UnknownKinds() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unknownKinds
}

// DropGroup discards the projected state for a deleted group.
func (p *Projection) DropGroup(groupID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.groups, groupID)
}

// Serialize renders one group's projected state for snapshotting.
func (p *Projection) Serialize(groupID string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs := p.groups[groupID]
	if gs == nil {
		return nil, types.E(types.ErrNoSuchGroup, "no such group: %s", groupID)
	}
	return json.Marshal(gs)
}

// Restore replaces one group's projected state from a snapshot. Events
// after the snapshot point are applied on top.
func (p *Projection) Restore(groupID string, state []byte) error {
	gs := newGroupState()
	if err := json.Unmarshal(state, gs); err != nil {
		return types.E(types.ErrInvalidPayload, "malformed snapshot state: %v", err)
	}
	gs.reindex()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups[groupID] = gs
	return nil
}
