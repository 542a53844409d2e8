package engine

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowgraph/graphengine/internal/infrastructure/logger"
)

// wireEvent is ExecutionEvent's JSON-safe shape: Error is an error interface,
// which encoding/json cannot marshal meaningfully, so it is flattened to a
// string here.
type wireEvent struct {
	Type        string                 `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	NodeID      string                 `json:"node_id,omitempty"`
	NodeName    string                 `json:"node_name,omitempty"`
	NodeType    string                 `json:"node_type,omitempty"`
	WaveIndex   int                    `json:"wave_index,omitempty"`
	NodeCount   int                    `json:"node_count,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Output      interface{}            `json:"output,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
}

func toWireEvent(e ExecutionEvent) wireEvent {
	w := wireEvent{
		Type:        e.Type,
		ExecutionID: e.ExecutionID,
		WorkflowID:  e.WorkflowID,
		NodeID:      e.NodeID,
		NodeName:    e.NodeName,
		NodeType:    e.NodeType,
		WaveIndex:   e.WaveIndex,
		NodeCount:   e.NodeCount,
		Status:      e.Status,
		Output:      e.Output,
		DurationMs:  e.DurationMs,
		Message:     e.Message,
		Timestamp:   e.Timestamp,
		Input:       e.Input,
		Variables:   e.Variables,
	}
	if e.Error != nil {
		w.Error = e.Error.Error()
	}
	return w
}

// WebSocketNotifier broadcasts ExecutionEvents to every currently-connected
// websocket client. It implements both ExecutionNotifier and http.Handler,
// so a caller mounts it directly as a route and passes it to RunConfig.Notifier.
type WebSocketNotifier struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan wireEvent
}

// NewWebSocketNotifier builds a notifier with an upgrader that allows
// cross-origin connections, matching the teacher's permissive local-dev
// CORS stance; a production deployment would tighten CheckOrigin.
func NewWebSocketNotifier(log *logger.Logger) *WebSocketNotifier {
	return &WebSocketNotifier{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]chan wireEvent),
	}
}

// ServeHTTP upgrades the request to a websocket connection and keeps it
// registered until the client disconnects or the write queue backs up.
func (n *WebSocketNotifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if n.log != nil {
			n.log.Warn("websocket upgrade failed", "error", err)
		}
		return
	}

	out := n.register(conn)
	defer n.unregister(conn)

	go n.drainClientReads(conn)

	for event := range out {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// drainClientReads discards inbound frames so the connection's read
// deadline/pong handling stays alive; this notifier is broadcast-only and
// does not expect clients to send anything.
func (n *WebSocketNotifier) drainClientReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

func (n *WebSocketNotifier) register(conn *websocket.Conn) chan wireEvent {
	ch := make(chan wireEvent, 64)
	n.mu.Lock()
	n.clients[conn] = ch
	n.mu.Unlock()
	return ch
}

func (n *WebSocketNotifier) unregister(conn *websocket.Conn) {
	n.mu.Lock()
	ch, ok := n.clients[conn]
	if ok {
		delete(n.clients, conn)
		close(ch)
	}
	n.mu.Unlock()
	conn.Close()
}

// Notify fans the event out to every connected client's buffered channel. A
// client whose buffer is full is dropped rather than allowed to block the
// run that is producing events.
func (n *WebSocketNotifier) Notify(event ExecutionEvent) {
	w := toWireEvent(event)
	n.mu.Lock()
	defer n.mu.Unlock()
	for conn, ch := range n.clients {
		select {
		case ch <- w:
		default:
			if n.log != nil {
				n.log.Warn("websocket client backpressured, dropping connection", "remote_addr", conn.RemoteAddr().String())
			}
			delete(n.clients, conn)
			close(ch)
			conn.Close()
		}
	}
}

// ClientCount reports the number of currently-registered clients, used by
// tests to deterministically wait for a connection to finish registering
// instead of sleeping.
func (n *WebSocketNotifier) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}
