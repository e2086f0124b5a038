package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"canvas/api/internal/events"
	"canvas/api/internal/presence"
	"canvas/api/internal/protocol"
	"canvas/api/internal/rbac"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsReadTimeout   = 60 * time.Second
	wsPingInterval  = 25 * time.Second
	wsMaxFrameBytes = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket attaches a subscriber to the document. The first frame is
// init; after that the socket carries patch, components, presence and ack
// frames out and event and presence frames in.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request, documentID string) {
	if !s.allow(w, rbac.ActionRead) {
		return
	}
	d, err := s.service.document(r.Context(), documentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	entries, err := d.presence.List(r.Context())
	if err != nil {
		log.Printf("app: presence of %s: %v", documentID, err)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("app: websocket upgrade for %s: %v", documentID, err)
		return
	}
	conn.SetReadLimit(wsMaxFrameBytes)

	// Subscribing and queueing init under the document lock keeps every later
	// patch behind the snapshot it applies to.
	d.mu.Lock()
	sub := d.subscribe()
	welcome, err := protocol.NewMessage(protocol.TypeInit, "", protocol.InitPayload{
		DocumentID: documentID,
		Components: d.tree.Snapshot(),
		Mutations:  d.fullMutations(),
		Presence:   nonNilEntries(entries),
	})
	if err == nil {
		d.deliver(sub, welcome)
	}
	d.mu.Unlock()
	if err != nil {
		log.Printf("app: init frame for %s: %v", documentID, err)
		d.unsubscribe(sub)
		_ = conn.Close()
		return
	}

	go writePump(conn, sub)
	s.readPump(r.Context(), conn, d, sub)
}

func writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-sub.done:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(wsWriteTimeout),
			)
			return
		case msg := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) readPump(ctx context.Context, conn *websocket.Conn, d *Document, sub *subscriber) {
	defer func() {
		d.unsubscribe(sub)
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("app: websocket read on %s: %v", d.ID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.replyError(d, sub, "", "INVALID_FRAME", "frame is not valid JSON")
			continue
		}

		switch msg.Type {
		case protocol.TypeEvent:
			s.handleSocketEvent(ctx, d, sub, msg)
		case protocol.TypePresence:
			if !s.service.Can(rbac.ActionPresence) {
				s.replyError(d, sub, msg.TrackingID, "FORBIDDEN", "presence is not available")
				continue
			}
			var p protocol.PresencePayload
			if err := msg.Decode(&p); err != nil {
				s.replyError(d, sub, msg.TrackingID, "INVALID_FRAME", err.Error())
				continue
			}
			if _, err := s.service.UpdatePresence(ctx, d.ID, presence.Entry{
				UserID:    p.UserID,
				Action:    p.Action,
				Selection: p.Selection,
			}); err != nil {
				_, code, message, _ := mapError(err)
				s.replyError(d, sub, msg.TrackingID, code, message)
			}
		default:
			s.replyError(d, sub, msg.TrackingID, "UNKNOWN_FRAME", "unknown frame type "+msg.Type)
		}
	}
}

func (s *HTTPServer) handleSocketEvent(ctx context.Context, d *Document, sub *subscriber, msg protocol.Message) {
	if !s.service.Can(rbac.ActionEvent) {
		s.replyAckError(d, sub, msg.TrackingID, "events are not available")
		return
	}
	var p protocol.EventPayload
	if err := msg.Decode(&p); err != nil {
		s.replyAckError(d, sub, msg.TrackingID, err.Error())
		return
	}
	ev := events.Event{
		ID:           msg.TrackingID,
		Type:         p.Type,
		ComponentID:  p.ComponentID,
		InstancePath: p.InstancePath,
		Payload:      p.Payload,
	}
	if _, err := s.service.HandleEvent(ctx, d.ID, ev, sub); err != nil {
		_, _, message, _ := mapError(err)
		s.replyAckError(d, sub, msg.TrackingID, message)
	}
}

// replyAckError acknowledges a failed event so the sender's emitter does not
// stay pending.
func (s *HTTPServer) replyAckError(d *Document, sub *subscriber, trackingID, message string) {
	ack, err := protocol.NewMessage(protocol.TypeAck, trackingID, protocol.AckPayload{
		Mutations: map[string]any{},
		Error:     message,
	})
	if err != nil {
		return
	}
	d.deliver(sub, ack)
}

func (s *HTTPServer) replyError(d *Document, sub *subscriber, trackingID, code, message string) {
	frame, err := protocol.NewMessage(protocol.TypeError, trackingID, protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	d.deliver(sub, frame)
}
