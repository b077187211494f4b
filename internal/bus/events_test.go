package bus

import (
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEventBus_DropsOldest(t *testing.T) {
	b := NewEventBus(3)
	for i := 0; i < 5; i++ {
		b.Publish("tick", map[string]any{"i": i})
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
	if b.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", b.Dropped())
	}
	got := b.Drain()
	for i, ev := range got {
		if want := i + 2; ev.Data["i"] != want {
			t.Errorf("event %d carries %v, want %d", i, ev.Data["i"], want)
		}
		if ev.ID == "" || ev.Time.IsZero() {
			t.Errorf("event %d missing id or time: %+v", i, ev)
		}
	}
}

func TestEventBus_Disabled(t *testing.T) {
	b := NewEventBus(0)
	b.SetEnabled(false)
	b.Publish("memory.turn", nil)
	if b.Len() != 0 {
		t.Fatalf("disabled bus queued %d events", b.Len())
	}
	b.SetEnabled(true)
	b.Publish("memory.turn", nil)
	if b.Len() != 1 {
		t.Fatalf("len = %d, want 1", b.Len())
	}
	if cap(b.queue) != DefaultQueueSize {
		t.Errorf("cap = %d, want default", cap(b.queue))
	}
}

func TestEventBus_ConcurrentPublishNeverBlocks(t *testing.T) {
	b := NewEventBus(8)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish("load", nil)
			}
		}()
	}
	wg.Wait()
	if b.Len() != 8 {
		t.Errorf("len = %d, want 8", b.Len())
	}
	if got := b.Dropped() + uint64(b.Len()); got != 400 {
		t.Errorf("dropped+queued = %d, want 400", got)
	}
}

func TestEventBus_NilSafe(t *testing.T) {
	var b *EventBus
	b.Publish("x", nil)
}
