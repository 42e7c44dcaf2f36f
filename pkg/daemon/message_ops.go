package daemon

import (
	"bytes"
	"encoding/json"

	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/ledger"
	"github.com/cccc-dev/cccc/pkg/types"
)

// opMessageSend commits a chat message. Replying is sending with
// reply_to set; the projection satisfies the obligation as the event is
// folded in, and delivery fans out from commit.
func (d *Daemon) opMessageSend(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.MessageSendArgs](raw)
	if err != nil {
		return nil, err
	}
	g, err := d.requireGroup(a.GroupID)
	if err != nil {
		return nil, err
	}
	if err := d.proj.Check(a.GroupID, a.By, kernel.ActionMessageSend, ""); err != nil {
		return nil, err
	}
	if err := d.proj.CheckState(a.GroupID, a.By, kernel.ActionMessageSend); err != nil {
		return nil, err
	}

	m := a.Message
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.ReplyTo != "" {
		if _, err := types.ParseEventID(m.ReplyTo); err != nil {
			return nil, types.E(types.ErrInvalidPayload, "reply_to: %v", err)
		}
	}
	if err := d.store.VerifyBlobRefs(a.GroupID, m.Attachments); err != nil {
		return nil, err
	}

	// A bare user send goes to the group's default target when one can
	// take it; otherwise it stays a broadcast.
	if len(m.To) == 0 && a.By == types.ByUser &&
		g.Settings.DefaultSendTo == types.SendToForeman &&
		d.proj.Foreman(a.GroupID) != nil {
		m.To = []string{types.AddrForeman}
	}

	unlock := d.lockGroup(a.GroupID)
	defer unlock()
	return d.commit(a.GroupID, types.KindChatMessage, a.By, "", m)
}

// opMessageAck acknowledges an attention message. Acking twice is
// harmless; the projection keeps the first.
func (d *Daemon) opMessageAck(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.MessageAckArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	if err := d.proj.Check(a.GroupID, a.By, kernel.ActionMessageAck, ""); err != nil {
		return nil, err
	}
	if err := d.proj.CheckState(a.GroupID, a.By, kernel.ActionMessageAck); err != nil {
		return nil, err
	}
	ev, err := d.store.Get(a.GroupID, a.EventID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, types.E(types.ErrInvalidPayload, "no such event: %s", a.EventID)
	}

	unlock := d.lockGroup(a.GroupID)
	defer unlock()
	return d.commit(a.GroupID, types.KindChatAck, a.By, "", types.ChatAck{EventID: a.EventID})
}

func (d *Daemon) opInboxList(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.InboxListArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	return d.inboxResult(a.GroupID, a.By, a.Limit)
}

// inboxResult joins a principal's unread entries with their full ledger
// events in one read pass.
func (d *Daemon) inboxResult(groupID, principal string, limit int) (any, error) {
	items := d.proj.Inbox(groupID, principal, limit)
	res := ipc.InboxListResult{Items: items}
	if len(items) == 0 {
		return res, nil
	}
	read, err := d.store.Read(groupID, ledger.Filter{
		Kinds:  []types.EventKind{types.KindChatMessage},
		FromID: items[0].EventID,
		ToID:   items[len(items)-1].EventID,
	})
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(items))
	for _, it := range items {
		want[it.EventID] = true
	}
	for _, ev := range read.Events {
		if want[ev.ID] {
			res.Events = append(res.Events, ev)
		}
	}
	return res, nil
}

// opInboxMarkRead advances the caller's read cursor. Idempotent and
// monotone: an up_to at or behind the cursor commits nothing.
func (d *Daemon) opInboxMarkRead(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.InboxMarkReadArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	if err := d.proj.Check(a.GroupID, a.By, kernel.ActionInboxMarkRead, ""); err != nil {
		return nil, err
	}
	upTo, err := types.ParseEventID(a.UpTo)
	if err != nil {
		return nil, types.E(types.ErrInvalidPayload, "up_to: %v", err)
	}
	last, err := d.store.LastID(a.GroupID)
	if err != nil {
		return nil, err
	}
	lastSeq, err := types.ParseEventID(last)
	if err != nil || upTo > lastSeq {
		return nil, types.E(types.ErrInvalidPayload, "no such event: %s", a.UpTo)
	}

	unlock := d.lockGroup(a.GroupID)
	defer unlock()

	if cur := d.proj.Cursor(a.GroupID, a.By); cur != "" {
		if curSeq, err := types.ParseEventID(cur); err == nil && upTo <= curSeq {
			return map[string]string{"cursor": cur}, nil
		}
	}
	_, err = d.commit(a.GroupID, types.KindChatRead, a.By, "", types.ChatRead{
		Principal: a.By,
		UpTo:      a.UpTo,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"cursor": d.proj.Cursor(a.GroupID, a.By)}, nil
}

// opBlobPut stores attachment content; the returned hash is what a
// later message.send references.
func (d *Daemon) opBlobPut(raw json.RawMessage) (any, error) {
	a, err := decode[ipc.BlobPutArgs](raw)
	if err != nil {
		return nil, err
	}
	if _, err := d.requireGroup(a.GroupID); err != nil {
		return nil, err
	}
	if len(a.Data) == 0 {
		return nil, types.E(types.ErrInvalidPayload, "blob requires data")
	}
	sha, n, err := d.store.PutBlob(a.GroupID, bytes.NewReader(a.Data))
	if err != nil {
		return nil, err
	}
	return ipc.BlobPutResult{SHA256: sha, Bytes: n}, nil
}
