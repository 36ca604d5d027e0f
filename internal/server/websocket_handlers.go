package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/frame"
	"github.com/MeKo-Tech/idcap/internal/geometry"
	"github.com/MeKo-Tech/idcap/internal/messages"
	"github.com/MeKo-Tech/idcap/internal/orientation"
	"github.com/gorilla/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocketMessage represents a message sent over WebSocket.
type WebSocketMessage struct {
	Type    string      `json:"type"` // "event", "ack" or "error"
	Payload interface{} `json:"payload,omitempty"`
}

// WebSocketEvent carries one machine event, rendered for the client.
type WebSocketEvent struct {
	Transition *capture.Transition `json:"transition,omitempty"`
	Session    SessionResponse     `json:"session"`
}

// WebSocketCommand is a text message from the client. Binary messages are
// encoded frames and carry no command.
type WebSocketCommand struct {
	Type    string            `json:"type"`
	Width   int               `json:"width,omitempty"`
	Height  int               `json:"height,omitempty"`
	Overlay *geometry.Overlay `json:"overlay,omitempty"`
	DocType string            `json:"doc_type,omitempty"`
}

// WebSocketAck answers a command.
type WebSocketAck struct {
	Command string `json:"command"`
	Applied bool   `json:"applied"`
}

// WebSocketError reports a rejected message.
type WebSocketError struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.corsOrigin == "*" || origin == s.corsOrigin
}

// sessionWebSocketHandler streams frames into a session and its events back
// to the client.
func (s *Server) sessionWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	p := s.printer(r)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.log.Info("WebSocket connection established", "session", sess.id, "remote_addr", r.RemoteAddr)

	events, unsubscribe := sess.hub.subscribe()
	defer unsubscribe()

	replies := make(chan WebSocketMessage, 8)
	writerDone := make(chan struct{})
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(writerDone)
		s.writeLoop(conn, p, sess.id, events, replies, stop)
	}()

	send := func(m WebSocketMessage) {
		select {
		case replies <- m:
		case <-writerDone:
		}
	}
	send(WebSocketMessage{Type: "event", Payload: WebSocketEvent{
		Session: renderSession(p, sess.id, sess.machine.Snapshot()),
	}})

	s.readLoop(r.Context(), conn, sess, send)
	close(stop)
	wg.Wait()
}

// readLoop handles client messages until the connection fails.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session, send func(WebSocketMessage)) {
	conn.SetReadLimit(s.maxUploadMB << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error("WebSocket error", "session", sess.id, "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		sess.touch(s.now())

		switch messageType {
		case websocket.BinaryMessage:
			if msg, ok := s.handleFrame(sess, data); !ok {
				send(msg)
			}
		case websocket.TextMessage:
			send(s.handleCommand(ctx, sess, data))
		}
	}
}

// handleFrame decodes a pushed frame. It returns an error message and false
// when the frame was not delivered.
func (s *Server) handleFrame(sess *session, data []byte) (WebSocketMessage, bool) {
	frameSizeBytes.Observe(float64(len(data)))
	if sess.push == nil {
		return wsError("invalid_request", "session does not accept pushed frames"), false
	}
	img, _, err := frame.Decode(bytes.NewReader(data))
	if err != nil {
		return wsError("invalid_frame", err.Error()), false
	}
	if !sess.push.Push(img) {
		return wsError("not_streaming", "session has not been started"), false
	}
	return WebSocketMessage{}, true
}

// handleCommand applies a text command and returns the reply.
func (s *Server) handleCommand(ctx context.Context, sess *session, data []byte) WebSocketMessage {
	var cmd WebSocketCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return wsError("invalid_request", fmt.Sprintf("Failed to parse command: %v", err))
	}

	m := sess.machine
	var applied bool
	switch cmd.Type {
	case "start":
		before := m.State()
		if err := m.Start(ctx); err != nil {
			return wsError("camera_error", err.Error())
		}
		applied = m.State() != before
	case "viewport":
		if cmd.Width < 0 || cmd.Height < 0 {
			return wsError("invalid_request", "viewport needs non-negative width and height")
		}
		m.SetViewport(orientation.Viewport{Width: cmd.Width, Height: cmd.Height})
		applied = true
	case "capture":
		var o geometry.Overlay
		if cmd.Overlay != nil {
			o = *cmd.Overlay
		}
		applied = m.Capture(m.ResolveOverlay(o))
	case "accept":
		applied = m.Accept()
	case "retry":
		applied = m.Retry()
	case "reset":
		m.Reset()
		applied = true
	case "doctype":
		if err := m.SetDocType(cmd.DocType); err != nil {
			return wsError("unknown_doc_type", err.Error())
		}
		applied = true
	default:
		return wsError("invalid_request", "Unsupported command type: "+cmd.Type)
	}
	return WebSocketMessage{Type: "ack", Payload: WebSocketAck{Command: cmd.Type, Applied: applied}}
}

// writeLoop is the connection's only data writer. It forwards machine
// events and command replies and keeps the connection alive with pings.
func (s *Server) writeLoop(
	conn *websocket.Conn,
	p *messages.Printer,
	id string,
	events <-chan capture.Event,
	replies <-chan WebSocketMessage,
	stop <-chan struct{},
) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		var msg WebSocketMessage
		select {
		case <-stop:
			return
		case e, ok := <-events:
			if !ok {
				// Session ended.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				_ = conn.Close()
				return
			}
			msg = WebSocketMessage{Type: "event", Payload: WebSocketEvent{
				Transition: e.Transition,
				Session:    renderSession(p, id, e.Snapshot),
			}}
		case msg = <-replies:
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := s.sendWebSocketMessage(conn, msg); err != nil {
			return
		}
	}
}

// sendWebSocketMessage sends a message over WebSocket.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("Failed to marshal WebSocket message", "error", err)
		return nil
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug("Failed to send WebSocket message", "error", err)
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}

func wsError(errorType, message string) WebSocketMessage {
	return WebSocketMessage{Type: "error", Payload: WebSocketError{ErrorType: errorType, Message: message}}
}
