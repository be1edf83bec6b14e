package actor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentnet/kernel/internal/agentnet/model"
)

// upgrader is shared across every actor: origin checking and frame limits
// are connection-agnostic, so one Upgrader value is enough (goclaw's
// gateway.Server does the same, keyed off the server rather than per
// client).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 16
)

// wsFrameIn is an inbound client frame. Only "prompt" is recognized today;
// unknown types are answered with a "frame.error" frame instead of closing
// the connection, so one malformed message doesn't kill the session.
type wsFrameIn struct {
	Type    string         `json:"type"`
	ID      string         `json:"id"`
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options"`
}

type wsFrameOut struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
	Session *model.Session `json:"session,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// HandleWS upgrades the request to a websocket and serves frames against
// this actor until the connection closes or the actor is shut down. It
// blocks for the lifetime of the connection; callers should invoke it
// directly from an http.Handler.
func (a *Actor) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("actor: websocket upgrade failed", "did", a.did, "error", err)
		return
	}

	send := make(chan []byte, wsSendBuffer)
	a.wsMu.Lock()
	a.wsConn[conn] = send
	a.wsMu.Unlock()

	defer func() {
		a.wsMu.Lock()
		if _, ok := a.wsConn[conn]; ok {
			delete(a.wsConn, conn)
			close(send)
		}
		a.wsMu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	go a.wsWritePump(conn, send, done)
	a.wsReadPump(r.Context(), conn)
	close(done)
}

func (a *Actor) wsReadPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var in wsFrameIn
		if err := json.Unmarshal(raw, &in); err != nil {
			a.replyWS(conn, wsFrameOut{Type: "frame.error", Error: "malformed frame"})
			continue
		}

		switch in.Type {
		case "prompt":
			go a.handleWSPrompt(ctx, conn, in)
		default:
			a.replyWS(conn, wsFrameOut{Type: "frame.error", ID: in.ID, Error: "unknown frame type"})
		}
	}
}

func (a *Actor) handleWSPrompt(ctx context.Context, conn *websocket.Conn, in wsFrameIn) {
	res, err := a.Prompt(ctx, PromptRequest{Prompt: in.Prompt, Options: in.Options})
	if err != nil {
		a.replyWS(conn, wsFrameOut{Type: "prompt.error", ID: in.ID, Error: err.Error()})
		return
	}
	sess := res.Session
	a.replyWS(conn, wsFrameOut{Type: "prompt.result", ID: in.ID, Result: res.Result, Session: &sess})
}

func (a *Actor) replyWS(conn *websocket.Conn, frame wsFrameOut) {
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	a.wsMu.Lock()
	send, ok := a.wsConn[conn]
	a.wsMu.Unlock()
	if !ok {
		return
	}
	select {
	case send <- b:
	default:
		a.logger.Warn("actor: dropping frame for slow websocket reader", "did", a.did)
	}
}

func (a *Actor) wsWritePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
