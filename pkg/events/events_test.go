package events

import (
	"testing"
	"time"

	"github.com/cccc-dev/cccc/pkg/types"
)

func ev(group, id string, kind types.EventKind) *types.Event {
	return &types.Event{V: 1, ID: id, GroupID: group, Kind: kind, TS: time.Now()}
}

func TestBrokerDeliversInOrder(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("g1", nil, 10)

	for i := 1; i <= 5; i++ {
		b.Publish(ev("g1", types.FormatEventID(uint64(i)), types.KindChatMessage))
	}

	for i := 1; i <= 5; i++ {
		select {
		case got := <-sub.C:
			want := types.FormatEventID(uint64(i))
			if got.ID != want {
				t.Fatalf("event %d: id = %s, want %s", i, got.ID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBrokerGroupFilter(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("g1", nil, 10)

	b.Publish(ev("g2", "e-0000000001", types.KindChatMessage))
	b.Publish(ev("g1", "e-0000000001", types.KindChatMessage))

	select {
	case got := <-sub.C:
		if got.GroupID != "g1" {
			t.Errorf("received event for group %s, want g1", got.GroupID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for g1 event")
	}
}

func TestBrokerKindFilter(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("", []types.EventKind{types.KindSystemNotify}, 10)

	b.Publish(ev("g1", "e-0000000001", types.KindChatMessage))
	b.Publish(ev("g1", "e-0000000002", types.KindSystemNotify))

	select {
	case got := <-sub.C:
		if got.Kind != types.KindSystemNotify {
			t.Errorf("received kind %s, want system.notify", got.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}
}

func TestBrokerDropsSlowSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("g1", nil, 1)

	// Never drain; the second undeliverable event forces a lagged drop.
	for i := 1; i <= 5; i++ {
		b.Publish(ev("g1", types.FormatEventID(uint64(i)), types.KindChatMessage))
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				if !sub.Lagged() {
					t.Error("dropped subscriber should report Lagged()")
				}
				return
			}
		case <-deadline:
			t.Fatal("slow subscriber was never dropped")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("", nil, 4)
	b.Unsubscribe(sub)

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("expected closed channel after Unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Unsubscribe")
	}
	if sub.Lagged() {
		t.Error("clean unsubscribe must not report lagged")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}
