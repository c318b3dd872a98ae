package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// clientMessage is what a websocket client may send; only ping is understood.
type clientMessage struct {
	Type string `json:"type"`
}

// RunWSHandler handles GET /v1/runs/{id}/ws. The server writes RunEvent JSON
// frames, starting with the stored state, and closes after the terminal event.
func (s *Server) RunWSHandler(w http.ResponseWriter, r *http.Request, id string) {
	ch, run, err := s.subscribeRun(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer s.Broker.Unsubscribe(id, ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// Read loop: notices pings and the client leaving. Only the handler
	// goroutine writes frames, so pongs are handed over.
	pings := make(chan struct{}, 4)
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(v); err != nil {
			s.Logger.Debug("websocket write", zap.String("run_id", id), zap.Error(err))
			return false
		}
		return true
	}
	closeNormal := func() {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"), time.Now().Add(time.Second))
	}

	first := snapshotEvent(run)
	if !write(first) {
		return
	}
	if first.Terminal() {
		closeNormal()
		return
	}
	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-gone:
			return
		case <-pings:
			if !write(clientMessage{Type: "pong"}) {
				return
			}
		case <-keepalive.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !write(evt) {
				return
			}
			if evt.Terminal() {
				closeNormal()
				return
			}
		}
	}
}
