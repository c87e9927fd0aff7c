package api

import (
	"sync"

	"routetrace/internal/model"
)

// EventBroker fans trace events out to stream subscribers.
type EventBroker interface {
	Subscribe(traceID string) chan model.TraceEvent
	Unsubscribe(traceID string, ch chan model.TraceEvent)
	Publish(traceID string, evt model.TraceEvent)
}

// Broker is the in-process EventBroker. Slow subscribers miss events rather
// than block the publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.TraceEvent]struct{} // traceId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.TraceEvent]struct{}{}}
}

func (b *Broker) Subscribe(traceID string) chan model.TraceEvent {
	ch := make(chan model.TraceEvent, 16)
	b.mu.Lock()
	if b.subs[traceID] == nil {
		b.subs[traceID] = map[chan model.TraceEvent]struct{}{}
	}
	b.subs[traceID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(traceID string, ch chan model.TraceEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[traceID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, traceID)
	}
	close(ch)
}

func (b *Broker) Publish(traceID string, evt model.TraceEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[traceID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
