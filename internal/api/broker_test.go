package api

import (
	"testing"
	"time"

	"routetrace/internal/model"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	tid := "t1"
	ch := b.Subscribe(tid)

	evt := model.TraceEvent{Type: model.EventProgress, TraceID: tid, Data: map[string]any{"generation": 1}}
	b.Publish(tid, evt)
	b.Publish("other", model.TraceEvent{Type: "ignored"})

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["generation"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(tid, ch)
	b.Unsubscribe(tid, ch) // second call is a no-op
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// publishing with no subscribers must not block or panic
	b.Publish(tid, evt)
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("t")
	for i := 0; i < 100; i++ {
		b.Publish("t", model.TraceEvent{Type: model.EventProgress})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer len %d, want %d", len(ch), cap(ch))
	}
	b.Unsubscribe("t", ch)
}
