package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"routetrace/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

func terminal(typ string) bool {
	return typ == model.EventSucceeded || typ == model.EventFailed
}

// streamEvents upgrades to a WebSocket and relays the trace's events until it
// finishes or the client goes away. The first message always reflects the
// stored status, so a client that connects late still sees the outcome.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, t model.Trace) {
	// subscribe before re-reading the trace so no terminal event slips between
	ch := s.Broker.Subscribe(t.ID)
	defer s.Broker.Unsubscribe(t.ID, ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	log := s.Log.With("trace_id", t.ID)

	write := func(evt model.TraceEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(evt)
	}
	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
	}

	if cur, err := s.Store.GetTrace(r.Context(), t.ID); err == nil {
		t = cur
	}
	first := statusEvent(t)
	if err := write(first); err != nil {
		return
	}
	if terminal(first.Type) {
		closeWith(websocket.CloseNormalClosure, t.Status)
		return
	}

	// read loop only services control frames and notices the client leaving
	done := make(chan struct{})
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(evt); err != nil {
				log.Debug("ws_write_failed", "err", err)
				return
			}
			if terminal(evt.Type) {
				closeWith(websocket.CloseNormalClosure, evt.Type)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// statusEvent renders the stored state of t as an event.
func statusEvent(t model.Trace) model.TraceEvent {
	evt := model.TraceEvent{TraceID: t.ID, Ts: time.Now().UTC(), Data: map[string]any{"status": t.Status}}
	switch t.Status {
	case model.StatusSucceeded:
		evt.Type = model.EventSucceeded
	case model.StatusFailed:
		evt.Type = model.EventFailed
		evt.Data["error"] = t.Error
	case model.StatusRunning:
		evt.Type = model.EventStarted
	default:
		evt.Type = model.EventQueued
	}
	if t.Result != nil {
		evt.Data["result"] = t.Result
	}
	return evt
}
