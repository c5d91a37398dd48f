package event

import (
	"fmt"
	"sync"
	"testing"
)

func TestEmitDeliversByPriority(t *testing.T) {
	b := NewBus()

	var order []string
	sub := func(name string, p Priority) {
		if _, err := b.Subscribe("test.event", func(Event) {
			order = append(order, name)
		}, WithPriority(p)); err != nil {
			t.Fatal(err)
		}
	}

	sub("normal-1", PriorityNormal)
	sub("low", PriorityLow)
	sub("critical", PriorityCritical)
	sub("high", PriorityHigh)
	sub("normal-2", PriorityNormal)

	b.Emit(New("test.event", "test", nil))

	want := []string{"critical", "high", "normal-1", "normal-2", "low"}
	if len(order) != len(want) {
		t.Fatalf("delivered to %d subscribers, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestEmitOnlyMatchingType(t *testing.T) {
	b := NewBus()

	delivered := 0
	if _, err := b.Subscribe("a", func(Event) { delivered++ }); err != nil {
		t.Fatal(err)
	}

	b.Emit(New("b", "test", nil))
	if delivered != 0 {
		t.Error("delivered event of unrelated type")
	}
	b.Emit(New("a", "test", nil))
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := NewBus()

	var after bool
	if _, err := b.Subscribe("t", func(Event) { panic("boom") }, WithPriority(PriorityHigh)); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe("t", func(Event) { after = true }); err != nil {
		t.Fatal(err)
	}

	b.Emit(New("t", "test", nil))
	if !after {
		t.Error("handler after panicking one never ran")
	}
}

func TestPredicateFilters(t *testing.T) {
	b := NewBus()

	var got []string
	_, err := b.Subscribe("t", func(e Event) {
		got = append(got, e.Source)
	}, WithPredicate(func(e Event) bool { return e.Source == "wanted" }))
	if err != nil {
		t.Fatal(err)
	}

	b.Emit(New("t", "wanted", nil))
	b.Emit(New("t", "ignored", nil))

	if len(got) != 1 || got[0] != "wanted" {
		t.Errorf("delivered sources = %v", got)
	}
}

func TestForTargetPredicate(t *testing.T) {
	b := NewBus()

	delivered := 0
	_, err := b.Subscribe("t", func(Event) { delivered++ },
		WithPredicate(ForTarget("me")))
	if err != nil {
		t.Fatal(err)
	}

	b.Emit(New("t", "test", nil))                      // broadcast
	b.Emit(New("t", "test", nil).WithTarget("me"))     // addressed to us
	b.Emit(New("t", "test", nil).WithTarget("someone")) // addressed elsewhere

	if delivered != 2 {
		t.Errorf("delivered = %d, want 2 (broadcast + targeted)", delivered)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()

	delivered := 0
	handle, err := b.Subscribe("t", func(Event) { delivered++ })
	if err != nil {
		t.Fatal(err)
	}

	b.Emit(New("t", "test", nil))
	b.Unsubscribe(handle)
	b.Unsubscribe(handle) // idempotent
	b.Emit(New("t", "test", nil))

	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	b := NewBus()

	var mine, theirs int
	if _, err := b.Subscribe("t", func(Event) { mine++ }, WithSubscriber("plugin.a")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe("u", func(Event) { mine++ }, WithSubscriber("plugin.a")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe("t", func(Event) { theirs++ }, WithSubscriber("plugin.b")); err != nil {
		t.Fatal(err)
	}

	b.UnsubscribeAll("plugin.a")
	b.Emit(New("t", "test", nil))
	b.Emit(New("u", "test", nil))

	if mine != 0 {
		t.Errorf("plugin.a still delivered %d events", mine)
	}
	if theirs != 1 {
		t.Errorf("plugin.b delivered %d, want 1", theirs)
	}
}

func TestSubscribeValidation(t *testing.T) {
	b := NewBus()

	if _, err := b.Subscribe("t", nil); err != ErrNilHandler {
		t.Errorf("nil handler: %v, want ErrNilHandler", err)
	}
	if _, err := b.Subscribe("", func(Event) {}); err != ErrEmptyType {
		t.Errorf("empty type: %v, want ErrEmptyType", err)
	}
}

func TestHistoryRing(t *testing.T) {
	b := NewBus(WithHistorySize(3))

	for i := 0; i < 5; i++ {
		b.Emit(New(fmt.Sprintf("t.%d", i), "test", nil))
	}

	events := b.History(HistoryFilter{})
	if len(events) != 3 {
		t.Fatalf("history holds %d events, want 3", len(events))
	}
	// Oldest two were evicted; emission order preserved.
	for i, want := range []string{"t.2", "t.3", "t.4"} {
		if events[i].Type != want {
			t.Errorf("history[%d] = %s, want %s", i, events[i].Type, want)
		}
	}
}

func TestHistoryFilters(t *testing.T) {
	b := NewBus()

	b.Emit(New("a", "s1", nil))
	b.Emit(New("b", "s1", nil))
	b.Emit(New("a", "s2", nil))
	b.Emit(New("a", "s1", nil))

	byType := b.History(HistoryFilter{Type: "a"})
	if len(byType) != 3 {
		t.Errorf("filter by type: %d events, want 3", len(byType))
	}
	bySource := b.History(HistoryFilter{Source: "s1"})
	if len(bySource) != 3 {
		t.Errorf("filter by source: %d events, want 3", len(bySource))
	}
	both := b.History(HistoryFilter{Type: "a", Source: "s1"})
	if len(both) != 2 {
		t.Errorf("filter by both: %d events, want 2", len(both))
	}
	limited := b.History(HistoryFilter{Type: "a", Limit: 1})
	if len(limited) != 1 || limited[0].Source != "s1" {
		t.Errorf("limit returns %v, want the most recent match", limited)
	}
}

func TestEmitFillsIdentity(t *testing.T) {
	b := NewBus()

	var got Event
	if _, err := b.Subscribe("t", func(e Event) { got = e }); err != nil {
		t.Fatal(err)
	}

	b.Emit(Event{Type: "t", Source: "test"})
	if got.ID == "" {
		t.Error("event delivered without an ID")
	}
	if got.Timestamp.IsZero() {
		t.Error("event delivered without a timestamp")
	}
}

func TestConcurrentEmitAndUnsubscribe(t *testing.T) {
	b := NewBus()

	handles := make([]string, 200)
	for i := range handles {
		h, err := b.Subscribe("t", func(Event) {}, WithSubscriber("plugin.a"))
		if err != nil {
			t.Fatal(err)
		}
		handles[i] = h
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			b.Emit(New("t", "test", nil))
		}
	}()
	go func() {
		defer wg.Done()
		for _, h := range handles[:100] {
			b.Unsubscribe(h)
		}
	}()
	go func() {
		defer wg.Done()
		b.UnsubscribeAll("plugin.a")
	}()
	wg.Wait()

	if n := b.SubscriberCount("t"); n != 0 {
		t.Errorf("SubscriberCount = %d after removing everything", n)
	}
	b.Emit(New("t", "test", nil))
}

func TestHandlerMaySubscribeDuringDelivery(t *testing.T) {
	b := NewBus()

	if _, err := b.Subscribe("t", func(Event) {
		if _, err := b.Subscribe("t", func(Event) {}); err != nil {
			t.Errorf("nested subscribe failed: %v", err)
		}
	}); err != nil {
		t.Fatal(err)
	}

	b.Emit(New("t", "test", nil))
	if b.SubscriberCount("t") != 2 {
		t.Errorf("SubscriberCount = %d, want 2", b.SubscriberCount("t"))
	}
}
