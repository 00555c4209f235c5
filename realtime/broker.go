// Package realtime pushes scan events to browsers over Server-Sent Events and WebSockets.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stock-anomaly/logging"
)

// Broadcaster publishes an event to connected clients
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// Message is the envelope delivered to clients
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// KeepAlive is how often idle SSE streams get a comment line so proxies keep them open
const KeepAlive = 25 * time.Second

// sseFrame is one named SSE event
type sseFrame struct {
	event string
	data  []byte
}

type sseClient struct {
	frames chan sseFrame
	remote string
}

// Broker fans scan events out to Server-Sent Events subscribers. Slow subscribers miss
// frames instead of stalling the others.
type Broker struct {
	clients    map[*sseClient]struct{}
	register   chan *sseClient
	unregister chan *sseClient
	broadcast  chan sseFrame
	done       chan struct{}
	mu         sync.RWMutex
	keepAlive  time.Duration
	onChange   func(clients int)
	logger     zerolog.Logger
}

// NewBroker creates a new SSE broker. onChange, if set, receives the client count after each change.
func NewBroker(onChange func(clients int)) *Broker {
	return &Broker{
		clients:    make(map[*sseClient]struct{}),
		register:   make(chan *sseClient),
		unregister: make(chan *sseClient),
		broadcast:  make(chan sseFrame, 256),
		done:       make(chan struct{}),
		keepAlive:  KeepAlive,
		onChange:   onChange,
		logger:     logging.Component("sse"),
	}
}

// Run owns the subscriber set until ctx is cancelled, then closes every stream
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for c := range b.clients {
				delete(b.clients, c)
				close(c.frames)
			}
			b.mu.Unlock()
			b.changed(0)
			return

		case c := <-b.register:
			n := b.track(c, true)
			b.logger.Debug().Int("clients", n).Str("remote", c.remote).Msg("SSE client connected")

		case c := <-b.unregister:
			n := b.track(c, false)
			b.logger.Debug().Int("clients", n).Str("remote", c.remote).Msg("SSE client disconnected")

		case f := <-b.broadcast:
			dropped := 0
			b.mu.RLock()
			for c := range b.clients {
				select {
				case c.frames <- f:
				default:
					dropped++
				}
			}
			b.mu.RUnlock()
			if dropped > 0 {
				b.logger.Debug().Int("dropped", dropped).Str("event", f.event).Msg("Slow SSE clients skipped")
			}
		}
	}
}

// track adds or removes c and returns the new client count
func (b *Broker) track(c *sseClient, add bool) int {
	b.mu.Lock()
	if add {
		b.clients[c] = struct{}{}
	} else if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.frames)
	}
	n := len(b.clients)
	b.mu.Unlock()
	b.changed(n)
	return n
}

func (b *Broker) changed(n int) {
	if b.onChange != nil {
		b.onChange(n)
	}
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP streams events as "event: <type>" frames whose data is the JSON Message
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	c := &sseClient{frames: make(chan sseFrame, 16), remote: r.RemoteAddr}
	select {
	case b.register <- c:
	case <-b.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			select {
			case b.unregister <- c:
			case <-b.done:
			}
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case f, open := <-c.frames:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
			flusher.Flush()
		}
	}
}

// Broadcast queues event for every subscriber. The frame is dropped when the queue is full.
func (b *Broker) Broadcast(event string, payload interface{}) {
	data, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to encode SSE event")
		return
	}

	select {
	case b.broadcast <- sseFrame{event: event, data: data}:
	default:
		b.logger.Warn().Str("event", event).Msg("SSE queue full, dropping event")
	}
}

// Fanout broadcasts to several transports
type Fanout []Broadcaster

// Broadcast implements Broadcaster
func (f Fanout) Broadcast(event string, payload interface{}) {
	for _, b := range f {
		if b != nil {
			b.Broadcast(event, payload)
		}
	}
}
