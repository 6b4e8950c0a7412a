package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/notnil/h9can/h9"
)

// Event is one message seen by the node, as streamed on /frames.
type Event struct {
	Time        time.Time `json:"time"`
	Direction   string    `json:"dir"`
	Type        string    `json:"type"`
	Priority    uint8     `json:"priority"`
	Seqnum      uint8     `json:"seq"`
	Source      uint16    `json:"src"`
	Destination uint16    `json:"dst"`
	Data        string    `json:"data"`
	Result      string    `json:"result,omitempty"`
}

// NewEvent describes m for the tap.
func NewEvent(dir h9.Direction, m h9.Msg, result h9.SubmitResult) Event {
	e := Event{
		Time:        time.Now().UTC(),
		Direction:   dir.String(),
		Type:        m.Type.String(),
		Priority:    uint8(m.Priority),
		Seqnum:      m.Seqnum,
		Source:      m.Source,
		Destination: m.Destination,
		Data:        hex.EncodeToString(m.Payload()),
		Result:      result.String(),
	}
	return e
}

const tapClientBuffer = 64

type tapClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Tap fans out stack traffic to websocket clients. Publish never blocks;
// a client that falls behind loses events.
type Tap struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*tapClient]struct{}
}

// NewTap returns an empty tap.
func NewTap(logger zerolog.Logger) *Tap {
	return &Tap{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*tapClient]struct{}),
	}
}

// Monitor is an h9.Monitor feeding the tap.
func (t *Tap) Monitor(dir h9.Direction, m h9.Msg, result h9.SubmitResult) {
	t.Publish(NewEvent(dir, m, result))
}

// Publish sends e to every connected client.
func (t *Tap) Publish(e Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.clients) == 0 {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	for c := range t.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (t *Tap) ClientCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (t *Tap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Debug().Err(err).Msg("tap upgrade failed")
		return
	}
	c := &tapClient{conn: conn, send: make(chan []byte, tapClientBuffer)}

	t.mu.Lock()
	t.clients[c] = struct{}{}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.drop(c)
				return
			}
		case <-done:
			t.drop(c)
			return
		case <-r.Context().Done():
			t.drop(c)
			return
		}
	}
}

func (t *Tap) drop(c *tapClient) {
	t.mu.Lock()
	delete(t.clients, c)
	t.mu.Unlock()
	c.conn.Close()
}

// Close disconnects all clients.
func (t *Tap) Close() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for c := range t.clients {
		c.conn.Close()
	}
}
