package ipc

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cccc-dev/cccc/pkg/events"
	"github.com/cccc-dev/cccc/pkg/types"
)

// stubHandler routes a few synthetic ops for transport tests.
type stubHandler struct {
	mu   sync.Mutex
	seen []string
}

func (h *stubHandler) Handle(ctx context.Context, op string, args json.RawMessage) (any, error) {
	h.mu.Lock()
	h.seen = append(h.seen, op)
	h.mu.Unlock()
	switch op {
	case "test.echo":
		return json.RawMessage(args), nil
	case "test.slow":
		select {
		case <-time.After(5 * time.Second):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case "test.panic":
		panic("boom")
	case "test.fail":
		return nil, types.E(types.ErrNoSuchGroup, "no such group")
	}
	return nil, types.E(types.ErrUnknownOp, "unknown op %q", op)
}

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	if cfg.Handler == nil {
		cfg.Handler = &stubHandler{}
	}
	if cfg.Broker == nil {
		cfg.Broker = events.NewBroker()
	}
	cfg.Broker.Start()
	t.Cleanup(cfg.Broker.Stop)
	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(t.TempDir(), "socket")
	}
	srv := NewServer(cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, cfg.SocketPath
}

func dial(t *testing.T, network, addr string) net.Conn {
	t.Helper()
	nc, err := net.Dial(network, addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func request(t *testing.T, nc net.Conn, f *Frame) *Frame {
	t.Helper()
	if err := WriteFrame(nc, f); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	resp, err := ReadFrame(nc)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	return resp
}

func TestRequestResponse(t *testing.T) {
	_, sock := startServer(t, Config{})
	nc := dial(t, "unix", sock)

	resp := request(t, nc, &Frame{
		Type: FrameRequest, ID: "r1", Op: "test.echo",
		Args: json.RawMessage(`{"hello":"world"}`),
	})
	if !resp.OK || resp.ID != "r1" {
		t.Fatalf("response = %+v, want ok id r1", resp)
	}
	if string(resp.Result) != `{"hello":"world"}` {
		t.Errorf("result = %s, want echo of args", resp.Result)
	}
}

func TestErrorCodeCrossesWire(t *testing.T) {
	_, sock := startServer(t, Config{})
	nc := dial(t, "unix", sock)

	resp := request(t, nc, &Frame{Type: FrameRequest, ID: "r1", Op: "test.fail"})
	if resp.OK || resp.Error == nil {
		t.Fatalf("response = %+v, want error", resp)
	}
	if resp.Error.Code != types.ErrNoSuchGroup {
		t.Errorf("code = %s, want no_such_group", resp.Error.Code)
	}
}

func TestRequestsExecuteInOrder(t *testing.T) {
	h := &stubHandler{}
	_, sock := startServer(t, Config{Handler: h})
	nc := dial(t, "unix", sock)

	for _, id := range []string{"a", "b", "c"} {
		if err := WriteFrame(nc, &Frame{Type: FrameRequest, ID: id, Op: "test." + id}); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		resp, err := ReadFrame(nc)
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		if resp.ID != want {
			t.Errorf("response id = %s, want %s", resp.ID, want)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.seen) != 3 || h.seen[0] != "test.a" || h.seen[2] != "test.c" {
		t.Errorf("execution order = %v", h.seen)
	}
}

func TestRequestTimeout(t *testing.T) {
	_, sock := startServer(t, Config{})
	nc := dial(t, "unix", sock)

	resp := request(t, nc, &Frame{
		Type: FrameRequest, ID: "r1", Op: "test.slow", TimeoutMS: 50,
	})
	if resp.OK || resp.Error == nil {
		t.Fatalf("response = %+v, want timeout error", resp)
	}
	if resp.Error.Code != types.ErrTimeout {
		t.Errorf("code = %s, want timeout", resp.Error.Code)
	}
}

func TestPanicBecomesInternalError(t *testing.T) {
	_, sock := startServer(t, Config{})
	nc := dial(t, "unix", sock)

	resp := request(t, nc, &Frame{Type: FrameRequest, ID: "r1", Op: "test.panic"})
	if resp.OK || resp.Error == nil {
		t.Fatalf("response = %+v, want error", resp)
	}
	if resp.Error.Code != types.ErrInternal {
		t.Errorf("code = %s, want internal_error", resp.Error.Code)
	}
	if resp.Error.Details["correlation_id"] == "" {
		t.Error("internal error missing correlation_id detail")
	}

	// The connection survives the panic.
	resp = request(t, nc, &Frame{Type: FrameRequest, ID: "r2", Op: "test.echo"})
	if !resp.OK {
		t.Errorf("request after panic failed: %+v", resp)
	}
}

func TestTCPRequiresToken(t *testing.T) {
	srv, _ := startServer(t, Config{TCPAddr: "127.0.0.1:0", AuthToken: "s3cret"})
	nc := dial(t, "tcp", srv.TCPAddr().String())

	resp := request(t, nc, &Frame{Type: FrameRequest, ID: "r1", Op: "test.echo"})
	if resp.OK || resp.Error == nil || resp.Error.Code != types.ErrUnauthorized {
		t.Fatalf("tokenless response = %+v, want unauthorized", resp)
	}

	resp = request(t, nc, &Frame{Type: FrameRequest, ID: "r2", Op: "test.echo", Token: "s3cret"})
	if !resp.OK {
		t.Errorf("tokened request failed: %+v", resp)
	}
}

func TestUnixSocketSkipsToken(t *testing.T) {
	_, sock := startServer(t, Config{AuthToken: "s3cret"})
	nc := dial(t, "unix", sock)

	resp := request(t, nc, &Frame{Type: FrameRequest, ID: "r1", Op: "test.echo"})
	if !resp.OK {
		t.Errorf("local request without token failed: %+v", resp)
	}
}

func chatEvent(group, id string) *types.Event {
	return &types.Event{
		V: types.EventVersion, ID: id, TS: time.Now().UTC(),
		Kind: types.KindChatMessage, GroupID: group, By: "peer-a",
	}
}

func TestSubscribeStreamsLiveEvents(t *testing.T) {
	broker := events.NewBroker()
	_, sock := startServer(t, Config{Broker: broker})
	nc := dial(t, "unix", sock)

	filter, _ := json.Marshal(SubscribeFilter{GroupID: "g1"})
	if err := WriteFrame(nc, &Frame{Type: FrameSubscribe, ID: "s1", Filter: filter}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	broker.Publish(chatEvent("g1", types.FormatEventID(1)))
	broker.Publish(chatEvent("g2", types.FormatEventID(2))) // filtered out
	broker.Publish(chatEvent("g1", types.FormatEventID(3)))

	for _, want := range []string{types.FormatEventID(1), types.FormatEventID(3)} {
		f, err := ReadFrame(nc)
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		if f.Type != FrameEvent || f.ID != "s1" {
			t.Fatalf("frame = %+v, want event for s1", f)
		}
		var ev types.Event
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.ID != want {
			t.Errorf("event id = %s, want %s", ev.ID, want)
		}
	}
}

func TestSubscribeReplayThenLive(t *testing.T) {
	broker := events.NewBroker()
	replayed := []*types.Event{
		chatEvent("g1", types.FormatEventID(1)),
		chatEvent("g1", types.FormatEventID(2)),
	}
	_, sock := startServer(t, Config{
		Broker: broker,
		Replay: func(filter SubscribeFilter) ([]*types.Event, error) {
			if filter.FromID != types.FormatEventID(1) {
				return nil, types.E(types.ErrInvalidPayload, "unexpected from_id %s", filter.FromID)
			}
			return replayed, nil
		},
	})
	nc := dial(t, "unix", sock)

	filter, _ := json.Marshal(SubscribeFilter{GroupID: "g1", FromID: types.FormatEventID(1)})
	if err := WriteFrame(nc, &Frame{Type: FrameSubscribe, ID: "s1", Filter: filter}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	// Catch-up first, then live; a live repeat of a replayed id is
	// suppressed.
	got := make([]string, 0, 3)
	deadline := time.After(3 * time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(got) < 3 {
			f, err := ReadFrame(nc)
			if err != nil {
				return
			}
			var ev types.Event
			if json.Unmarshal(f.Data, &ev) == nil {
				got = append(got, ev.ID)
			}
		}
	}()
	time.Sleep(50 * time.Millisecond)
	broker.Publish(chatEvent("g1", types.FormatEventID(2))) // dup of replay
	broker.Publish(chatEvent("g1", types.FormatEventID(3)))
	select {
	case <-done:
	case <-deadline:
		t.Fatalf("timed out, got %v", got)
	}
	want := []string{types.FormatEventID(1), types.FormatEventID(2), types.FormatEventID(3)}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stream = %v, want %v", got, want)
		}
	}
}

func TestReplayRequiresGroup(t *testing.T) {
	_, sock := startServer(t, Config{})
	nc := dial(t, "unix", sock)

	filter, _ := json.Marshal(SubscribeFilter{FromID: types.FormatEventID(1)})
	resp := request(t, nc, &Frame{Type: FrameSubscribe, ID: "s1", Filter: filter})
	if resp.Error == nil || resp.Error.Code != types.ErrInvalidPayload {
		t.Errorf("response = %+v, want invalid_payload", resp)
	}
}

func TestCancelCompletesSubscription(t *testing.T) {
	_, sock := startServer(t, Config{})
	nc := dial(t, "unix", sock)

	if err := WriteFrame(nc, &Frame{Type: FrameSubscribe, ID: "s1"}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := WriteFrame(nc, &Frame{Type: FrameCancel, ID: "s1"}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	f, err := ReadFrame(nc)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if f.Type != FrameComplete || f.ID != "s1" {
		t.Errorf("frame = %+v, want complete for s1", f)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	in := &Frame{
		Type: FrameRequest, ID: "r1", Op: OpDaemonPing,
		Args: json.RawMessage(`{"by":"user"}`), TimeoutMS: 250,
	}
	go func() { WriteFrame(c1, in) }()
	out, err := ReadFrame(c2)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if out.Type != in.Type || out.ID != in.ID || out.Op != in.Op ||
		out.TimeoutMS != in.TimeoutMS || string(out.Args) != string(in.Args) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		hdr := []byte{0xff, 0xff, 0xff, 0xff}
		c1.Write(hdr)
	}()
	if _, err := ReadFrame(c2); err == nil {
		t.Error("ReadFrame() accepted oversize length prefix")
	}
}
