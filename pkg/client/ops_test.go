package client

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cccc-dev/cccc/pkg/events"
	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/types"
)

// recordingHandler answers a few ops with canned results and keeps the
// raw args for inspection.
type recordingHandler struct {
	mu   sync.Mutex
	args map[string]json.RawMessage
}

func (h *recordingHandler) Handle(_ context.Context, op string, args json.RawMessage) (any, error) {
	h.mu.Lock()
	if h.args == nil {
		h.args = make(map[string]json.RawMessage)
	}
	h.args[op] = append(json.RawMessage(nil), args...)
	h.mu.Unlock()

	switch op {
	case ipc.OpDaemonPing:
		return map[string]any{"pid": 42, "time": "2026-01-01T00:00:00Z", "groups": 3}, nil
	case ipc.OpGroupCreate:
		var a ipc.GroupCreateArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		return &types.Group{ID: "g-test", Title: a.Title, State: types.GroupActive}, nil
	case ipc.OpInboxMarkRead:
		return map[string]string{"cursor": types.FormatEventID(7)}, nil
	case ipc.OpBlueprintExport:
		return ipc.BlueprintExportResult{Blueprint: []byte("version: 1\n")}, nil
	}
	return nil, types.E(types.ErrUnknownOp, "unknown op %q", op)
}

func (h *recordingHandler) argsFor(t *testing.T, op string) json.RawMessage {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	raw, ok := h.args[op]
	if !ok {
		t.Fatalf("no recorded args for %s", op)
	}
	return raw
}

func startRecordingStub(t *testing.T) (*recordingHandler, string) {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	h := &recordingHandler{}
	sock := filepath.Join(t.TempDir(), "socket")
	srv := ipc.NewServer(ipc.Config{
		SocketPath: sock,
		Handler:    h,
		Broker:     broker,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("server Start() error = %v", err)
	}
	t.Cleanup(srv.Stop)
	return h, sock
}

func TestTypedWrapperDefaultsPrincipalToUser(t *testing.T) {
	h, sock := startRecordingStub(t)
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	g, err := c.CreateGroup("review loop", "", nil)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if g.ID != "g-test" || g.Title != "review loop" {
		t.Errorf("group = %+v, want id g-test title %q", g, "review loop")
	}

	var sent ipc.GroupCreateArgs
	if err := json.Unmarshal(h.argsFor(t, ipc.OpGroupCreate), &sent); err != nil {
		t.Fatalf("decode sent args: %v", err)
	}
	if sent.By != "user" {
		t.Errorf("sent By = %q, want user", sent.By)
	}
}

func TestTypedWrapperCarriesConfiguredPrincipal(t *testing.T) {
	h, sock := startRecordingStub(t)
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()
	c.By = "peer-a"

	cursor, err := c.MarkRead("g-test", types.FormatEventID(7))
	if err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if cursor != types.FormatEventID(7) {
		t.Errorf("cursor = %s, want %s", cursor, types.FormatEventID(7))
	}

	var sent ipc.InboxMarkReadArgs
	if err := json.Unmarshal(h.argsFor(t, ipc.OpInboxMarkRead), &sent); err != nil {
		t.Fatalf("decode sent args: %v", err)
	}
	if sent.By != "peer-a" {
		t.Errorf("sent By = %q, want peer-a", sent.By)
	}
}

func TestPingDecodesResult(t *testing.T) {
	_, sock := startRecordingStub(t)
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	info, err := c.Ping()
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if info.PID != 42 || info.Groups != 3 {
		t.Errorf("info = %+v, want pid 42 groups 3", info)
	}
}

func TestExportBlueprintReturnsDocument(t *testing.T) {
	_, sock := startRecordingStub(t)
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	doc, err := c.ExportBlueprint("g-test")
	if err != nil {
		t.Fatalf("ExportBlueprint() error = %v", err)
	}
	if string(doc) != "version: 1\n" {
		t.Errorf("doc = %q, want the exported YAML", doc)
	}
}
