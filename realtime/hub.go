package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"stock-anomaly/logging"
)

// Frame formats a WebSocket client can request with ?format=
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// frame is one broadcast encoded in both formats
type frame struct {
	json  []byte
	proto []byte
}

type wsClient struct {
	conn   *websocket.Conn
	format string
	send   chan frame
}

// Hub manages WebSocket clients. Frames are JSON text by default or binary
// google.protobuf.Struct messages when the client connects with ?format=proto.
type Hub struct {
	upgrader websocket.Upgrader
	clients  map[*wsClient]bool
	mu       sync.RWMutex
	onChange func(clients int)
	logger   zerolog.Logger
}

// NewHub creates a hub. allowedOrigin "*" or "" accepts every origin.
func NewHub(allowedOrigin string, onChange func(clients int)) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		clients:  make(map[*wsClient]bool),
		onChange: onChange,
		logger:   logging.Component("ws"),
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	format := FormatJSON
	if r.URL.Query().Get("format") == FormatProto {
		format = FormatProto
	}
	client := &wsClient{conn: conn, format: format, send: make(chan frame, sendBuffer)}

	h.add(client)
	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Int("clients", n).Str("format", c.format).Msg("WebSocket client connected")
	if h.onChange != nil {
		h.onChange(n)
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug().Int("clients", n).Msg("WebSocket client disconnected")
		if h.onChange != nil {
			h.onChange(n)
		}
	}
}

// readPump discards client messages and keeps the read deadline alive
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			var err error
			if c.format == FormatProto {
				err = c.conn.WriteMessage(websocket.BinaryMessage, f.proto)
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, f.json)
			}
			if err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast implements Broadcaster
func (h *Hub) Broadcast(event string, payload interface{}) {
	f, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Error encoding broadcast frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- f:
		default:
			// Slow client, drop the frame
		}
	}
}

// Close disconnects every client
func (h *Hub) Close(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case <-ctx.Done():
			return
		default:
		}
		h.remove(c)
	}
}

// encodeFrame renders the message as JSON and as a protobuf Struct
func encodeFrame(event string, payload interface{}) (frame, error) {
	jsonBytes, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		return frame{}, err
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &generic); err != nil {
		return frame{}, err
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return frame{}, err
	}
	protoBytes, err := proto.Marshal(st)
	if err != nil {
		return frame{}, err
	}
	return frame{json: jsonBytes, proto: protoBytes}, nil
}

// DecodeProtoFrame parses a binary frame back into a Message
func DecodeProtoFrame(data []byte) (Message, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Message{}, err
	}
	m := st.AsMap()
	event, _ := m["event"].(string)
	return Message{Event: event, Payload: m["payload"]}, nil
}
