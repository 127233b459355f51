package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/NatureBlueee/towow/pkg/bus"
)

// wsOutboundBuffer bounds the per-connection outbound queue. A slow
// client drops events rather than stalling the recorder.
const wsOutboundBuffer = 64

// wsCommand is a client → server control message.
type wsCommand struct {
	Action string `json:"action"` // subscribe | unsubscribe | ping
	Filter string `json:"filter,omitempty"`
	Replay int    `json:"replay,omitempty"`
}

// wsEnvelope is a server → client frame.
type wsEnvelope struct {
	Type   string     `json:"type"` // event | subscribed | unsubscribed | pong | error
	Filter string     `json:"filter,omitempty"`
	Event  *bus.Event `json:"event,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// handleWebSocket upgrades GET /ws and serves the event stream. Clients
// subscribe with {"action":"subscribe","filter":"demand.*"}; multiple
// filters may be active at once.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	wc := &wsConn{
		conn: conn,
		out:  make(chan wsEnvelope, wsOutboundBuffer),
		subs: make(map[string]func()),
	}
	defer wc.close()

	go wc.writeLoop(ctx, cancel)
	wc.readLoop(ctx, s)
}

type wsConn struct {
	conn *websocket.Conn
	out  chan wsEnvelope

	mu   sync.Mutex
	subs map[string]func()
}

func (w *wsConn) readLoop(ctx context.Context, s *Server) {
	for {
		var cmd wsCommand
		if err := wsjson.Read(ctx, w.conn, &cmd); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket read ended", "error", err)
			}
			return
		}
		switch cmd.Action {
		case "subscribe":
			w.subscribe(ctx, s, cmd)
		case "unsubscribe":
			w.unsubscribe(cmd.Filter)
		case "ping":
			w.enqueue(wsEnvelope{Type: "pong"})
		default:
			w.enqueue(wsEnvelope{Type: "error", Error: "unknown action: " + cmd.Action})
		}
	}
}

func (w *wsConn) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-w.out:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, w.conn, env); err != nil {
				return
			}
		}
	}
}

func (w *wsConn) subscribe(ctx context.Context, s *Server, cmd wsCommand) {
	filter := cmd.Filter
	if filter == "" {
		filter = "*"
	}

	w.mu.Lock()
	if _, exists := w.subs[filter]; exists {
		w.mu.Unlock()
		w.enqueue(wsEnvelope{Type: "subscribed", Filter: filter})
		return
	}
	feed, cancelFeed := s.engine.Events().Subscribe(filter, 0)
	w.subs[filter] = cancelFeed
	w.mu.Unlock()

	if cmd.Replay > 0 {
		for _, evt := range s.engine.Events().Recent(filter, cmd.Replay) {
			e := evt
			w.enqueue(wsEnvelope{Type: "event", Filter: filter, Event: &e})
		}
	}
	w.enqueue(wsEnvelope{Type: "subscribed", Filter: filter})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-feed:
				if !ok {
					return
				}
				e := evt
				w.enqueue(wsEnvelope{Type: "event", Filter: filter, Event: &e})
			}
		}
	}()
}

func (w *wsConn) unsubscribe(filter string) {
	w.mu.Lock()
	cancelFeed, ok := w.subs[filter]
	if ok {
		delete(w.subs, filter)
	}
	w.mu.Unlock()
	if ok {
		cancelFeed()
		w.enqueue(wsEnvelope{Type: "unsubscribed", Filter: filter})
	}
}

// enqueue offers an envelope to the write loop, dropping on backlog.
func (w *wsConn) enqueue(env wsEnvelope) {
	select {
	case w.out <- env:
	default:
	}
}

func (w *wsConn) close() {
	w.mu.Lock()
	for filter, cancelFeed := range w.subs {
		cancelFeed()
		delete(w.subs, filter)
	}
	w.mu.Unlock()
	_ = w.conn.Close(websocket.StatusNormalClosure, "")
}
