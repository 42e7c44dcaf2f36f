package ledger

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cccc-dev/cccc/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{Home: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAppendChat(t *testing.T, s *Store, group, by, text string) *types.Event {
	t.Helper()
	data, _ := json.Marshal(types.ChatMessage{Text: text})
	ev, err := s.Append(group, types.KindChatMessage, by, "", data)
	if err != nil {
		t.Fatalf("Append(chat.message) error = %v", err)
	}
	return ev
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	var prev string
	for i := 0; i < 10; i++ {
		ev := mustAppendChat(t, s, "g1", "user", "hello")
		if ev.ID <= prev {
			t.Fatalf("id %s not greater than previous %s", ev.ID, prev)
		}
		prev = ev.ID
	}

	last, err := s.LastID("g1")
	if err != nil {
		t.Fatalf("LastID() error = %v", err)
	}
	if last != prev {
		t.Errorf("LastID() = %s, want %s", last, prev)
	}
}

func TestAppendUnknownGroup(t *testing.T) {
	s := testStore(t)
	data, _ := json.Marshal(types.ChatMessage{Text: "hi"})
	_, err := s.Append("missing", types.KindChatMessage, "user", "", data)
	if !types.IsCode(err, types.ErrNoSuchGroup) {
		t.Errorf("Append to missing group: code = %v, want no_such_group", types.CodeOf(err))
	}
}

func TestAppendRejectsUnknownKind(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	_, err := s.Append("g1", types.EventKind("made.up"), "user", "", nil)
	if !types.IsCode(err, types.ErrInvalidPayload) {
		t.Errorf("unknown kind: code = %v, want invalid_payload", types.CodeOf(err))
	}
}

func TestReadFilters(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	mustAppendChat(t, s, "g1", "user", "first")
	notify, _ := json.Marshal(types.SystemNotify{Reasons: []string{types.ReasonUnread}, Target: "peer-a", Text: "unread"})
	if _, err := s.Append("g1", types.KindSystemNotify, types.ByDaemon, "", notify); err != nil {
		t.Fatalf("Append(system.notify) error = %v", err)
	}
	mustAppendChat(t, s, "g1", "user", "second")

	res, err := s.Read("g1", Filter{Kinds: []types.EventKind{types.KindChatMessage}})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("kind filter returned %d events, want 2", len(res.Events))
	}
	for _, ev := range res.Events {
		if ev.Kind != types.KindChatMessage {
			t.Errorf("kind filter leaked %s", ev.Kind)
		}
	}

	res, err = s.Read("g1", Filter{Substr: "second"})
	if err != nil {
		t.Fatalf("Read(substr) error = %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("substr filter returned %d events, want 1", len(res.Events))
	}
}

func TestReadLimitWindowsNewest(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	var last *types.Event
	for i := 0; i < 5; i++ {
		last = mustAppendChat(t, s, "g1", "user", "msg")
	}

	res, err := s.Read("g1", Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("limit returned %d events, want 2", len(res.Events))
	}
	if !res.MoreBefore {
		t.Error("MoreBefore = false, want true")
	}
	if res.Events[1].ID != last.ID {
		t.Errorf("window tail = %s, want newest %s", res.Events[1].ID, last.ID)
	}
}

func TestReadAround(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	var ids []string
	for i := 0; i < 7; i++ {
		ids = append(ids, mustAppendChat(t, s, "g1", "user", "msg").ID)
	}

	res, err := s.Read("g1", Filter{Around: ids[3], Before: 1, After: 1})
	if err != nil {
		t.Fatalf("Read(around) error = %v", err)
	}
	if len(res.Events) != 3 {
		t.Fatalf("around window = %d events, want 3", len(res.Events))
	}
	if res.Events[1].ID != ids[3] {
		t.Errorf("window center = %s, want %s", res.Events[1].ID, ids[3])
	}
	if !res.MoreBefore || !res.MoreAfter {
		t.Errorf("MoreBefore/MoreAfter = %v/%v, want true/true", res.MoreBefore, res.MoreAfter)
	}
}

func TestTornTailRecovery(t *testing.T) {
	home := t.TempDir()
	s, err := NewStore(Config{Home: home})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	mustAppendChat(t, s, "g1", "user", "survives")
	s.Close()

	// Simulate a crash mid-write: append half a record with no newline.
	path := filepath.Join(home, "groups", "g1", "ledger.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	f.WriteString(`{"v":1,"id":"e-00000`)
	f.Close()

	s2, err := NewStore(Config{Home: home})
	if err != nil {
		t.Fatalf("NewStore() after crash error = %v", err)
	}
	defer s2.Close()
	if err := s2.Open("g1"); err != nil {
		t.Fatalf("Open() after crash error = %v", err)
	}

	res, err := s2.Read("g1", Filter{})
	if err != nil {
		t.Fatalf("Read() after recovery error = %v", err)
	}
	// The surviving message plus the recovery marker.
	if len(res.Events) != 2 {
		t.Fatalf("after recovery got %d events, want 2", len(res.Events))
	}
	if res.Events[0].Kind != types.KindChatMessage {
		t.Errorf("surviving event kind = %s, want chat.message", res.Events[0].Kind)
	}

	ev := mustAppendChat(t, s2, "g1", "user", "after crash")
	res, err = s2.Read("g1", Filter{})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	foundRecovered := false
	for _, e := range res.Events {
		if e.Kind == types.KindLedgerRecovered {
			foundRecovered = true
		}
	}
	if !foundRecovered {
		t.Error("recovery did not record a ledger.recovered event")
	}
	if res.Events[len(res.Events)-1].ID != ev.ID {
		t.Errorf("newest event = %s, want %s", res.Events[len(res.Events)-1].ID, ev.ID)
	}
}

func TestBlobPutGetIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	content := []byte("attachment body")
	sha1st, n, err := s.PutBlob("g1", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}
	if n != int64(len(content)) {
		t.Errorf("PutBlob() n = %d, want %d", n, len(content))
	}

	sha2nd, _, err := s.PutBlob("g1", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("PutBlob() second error = %v", err)
	}
	if sha1st != sha2nd {
		t.Errorf("same content hashed to %s and %s", sha1st, sha2nd)
	}

	r, err := s.GetBlob("g1", sha1st)
	if err != nil {
		t.Fatalf("GetBlob() error = %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if !bytes.Equal(got, content) {
		t.Errorf("GetBlob() = %q, want %q", got, content)
	}

	if !s.HasBlob("g1", sha1st) {
		t.Error("HasBlob() = false for stored blob")
	}
	if s.HasBlob("g1", strings.Repeat("0", 64)) {
		t.Error("HasBlob() = true for missing blob")
	}
}

func TestVerifyBlobRefs(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	sha, _, err := s.PutBlob("g1", strings.NewReader("report"))
	if err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}

	if err := s.VerifyBlobRefs("g1", []types.Attachment{{SHA256: sha, Filename: "report.txt"}}); err != nil {
		t.Errorf("VerifyBlobRefs() for stored blob error = %v", err)
	}
	err = s.VerifyBlobRefs("g1", []types.Attachment{{SHA256: strings.Repeat("a", 64), Filename: "gone"}})
	if !types.IsCode(err, types.ErrInvalidPayload) {
		t.Errorf("VerifyBlobRefs() missing blob: code = %v, want invalid_payload", types.CodeOf(err))
	}
}

func TestSnapshotAndCompact(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, mustAppendChat(t, s, "g1", "user", "msg").ID)
	}

	state := []byte(`{"cursors":{}}`)
	snap, err := s.SaveSnapshot("g1", ids[3], state)
	if err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	upTo, got, err := s.LoadSnapshot("g1")
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if upTo != ids[3] {
		t.Errorf("LoadSnapshot() upTo = %s, want %s", upTo, ids[3])
	}
	if !bytes.Equal(got, state) {
		t.Errorf("LoadSnapshot() state = %q, want %q", got, state)
	}

	if err := s.Compact("g1", ids[3], snap); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	res, err := s.Read("g1", Filter{})
	if err != nil {
		t.Fatalf("Read() after compact error = %v", err)
	}
	// Snapshot event at ids[3] plus the two newer events.
	if len(res.Events) != 3 {
		t.Fatalf("after compact got %d events, want 3", len(res.Events))
	}
	if res.Events[0].Kind != types.KindSnapshot || res.Events[0].ID != ids[3] {
		t.Errorf("compacted head = %s/%s, want snapshot/%s", res.Events[0].Kind, res.Events[0].ID, ids[3])
	}
	if res.Events[1].ID != ids[4] || res.Events[2].ID != ids[5] {
		t.Errorf("compacted tail ids = %s,%s, want %s,%s",
			res.Events[1].ID, res.Events[2].ID, ids[4], ids[5])
	}

	// Appends after compaction continue the original sequence.
	ev := mustAppendChat(t, s, "g1", "user", "post-compact")
	if ev.ID <= ids[5] {
		t.Errorf("post-compact id %s not greater than %s", ev.ID, ids[5])
	}
}

func TestCompactRequiresMatchingSnapshot(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	ev := mustAppendChat(t, s, "g1", "user", "msg")

	err := s.Compact("g1", ev.ID, &SnapshotData{UpTo: "e-0000009999"})
	if !types.IsCode(err, types.ErrInvalidPayload) {
		t.Errorf("Compact() with mismatched snapshot: code = %v, want invalid_payload", types.CodeOf(err))
	}
}

func TestDeleteGroup(t *testing.T) {
	s := testStore(t)
	if err := s.CreateGroup("g1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	mustAppendChat(t, s, "g1", "user", "msg")

	if err := s.DeleteGroup("g1"); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if s.GroupExists("g1") {
		t.Error("GroupExists() = true after delete")
	}
}
