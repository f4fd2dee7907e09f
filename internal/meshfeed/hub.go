package meshfeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"planetcore/internal/marching"
	"planetcore/internal/planet"
)

const (
	clientBuffer = 256
	inputBuffer  = 1024
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

// Input is one decoded client message for the driver loop.
type Input struct {
	Type      MessageType
	Viewer    mgl64.Vec3
	Terraform Terraform
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub streams scheduler output to WebSocket clients. It implements the
// planet mesh, collision and decoration sinks; updates are buffered until
// Flush so a tick's worth of changes goes out coalesced.
type Hub struct {
	hello  Hello
	logger *log.Logger

	upgrader websocket.Upgrader
	inputs   chan Input

	mu      sync.Mutex
	seq     uint64
	pending *accumulator
	live    map[planet.NodeKey]Mesh
	clients map[*client]struct{}
	closed  bool
}

var (
	_ planet.MeshSink       = (*Hub)(nil)
	_ planet.CollisionSink  = (*Hub)(nil)
	_ planet.DecorationSink = (*Hub)(nil)
)

func NewHub(hello Hello, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(log.Writer(), "meshfeed ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Hub{
		hello:  hello,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		inputs:  make(chan Input, inputBuffer),
		pending: newAccumulator(),
		live:    make(map[planet.NodeKey]Mesh),
		clients: make(map[*client]struct{}),
	}
}

// Inputs delivers viewer and terraform messages from every client. Messages
// are dropped when the driver falls behind.
func (h *Hub) Inputs() <-chan Input {
	return h.inputs
}

func (h *Hub) PublishMesh(key planet.NodeKey, m *marching.Mesh) {
	payload := Mesh{
		Key:      key,
		Origin:   m.Origin,
		Vertices: m.Vertices,
		Normals:  m.Normals,
		Indices:  m.Indices,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live[key] = payload
	h.pending.add(channelSurface, update{kind: MessageMesh, key: key, payload: payload})
}

func (h *Hub) HideMesh(key planet.NodeKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, key)
	h.pending.add(channelSurface, update{kind: MessageHide, key: key, payload: Slot{Key: key}})
}

func (h *Hub) ReleaseMesh(key planet.NodeKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, key)
	h.pending.add(channelSurface, update{kind: MessageRelease, key: key, payload: Slot{Key: key}})
}

func (h *Hub) PublishCollision(key planet.NodeKey, m *marching.Mesh) {
	payload := Mesh{
		Key:      key,
		Origin:   m.Origin,
		Vertices: m.Vertices,
		Indices:  m.Indices,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending.add(channelCollision, update{kind: MessageCollision, key: key, payload: payload})
}

func (h *Hub) ReleaseCollision(key planet.NodeKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending.add(channelCollision, update{kind: MessageRelease, key: key, payload: Slot{Key: key, Collision: true}})
}

func (h *Hub) PublishDecorations(key planet.NodeKey, placements []marching.Placement) {
	payload := Decorations{Key: key, Placements: make([]Placement, len(placements))}
	for i, p := range placements {
		payload.Placements[i] = Placement{Position: p.Position, Normal: p.Normal}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending.add(channelDecorations, update{kind: MessageDecorations, key: key, payload: payload})
}

func (h *Hub) ReleaseDecorations(key planet.NodeKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending.add(channelDecorations, update{kind: MessageRelease, key: key, payload: Slot{Key: key, Decorations: true}})
}

// Pending is the number of coalesced updates waiting for Flush.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending.len()
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Flush encodes the pending updates and queues them on every client. It
// returns the number of messages produced.
func (h *Hub) Flush() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	updates := h.pending.flush()
	for _, u := range updates {
		b, err := h.encodeLocked(u.kind, u.payload)
		if err != nil {
			h.logger.Printf("encode %s for %v: %v", u.kind, u.key, err)
			continue
		}
		for c := range h.clients {
			h.queueLocked(c, b)
		}
	}
	return len(updates)
}

// Close disconnects every client. Later sink calls are buffered but never
// sent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) encodeLocked(kind MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Type:      kind,
		Timestamp: time.Now().UTC(),
		Seq:       h.seq,
		Payload:   raw,
	}
	h.seq++
	return json.Marshal(env)
}

// queueLocked hands b to the client's writer, dropping clients that cannot
// keep up.
func (h *Hub) queueLocked(c *client, b []byte) {
	select {
	case c.send <- b:
	default:
		h.logger.Printf("client %s too slow, disconnecting", c.conn.RemoteAddr())
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// register adds c and queues the hello plus every live mesh so a late
// joiner sees the current surface.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	hello, err := h.encodeLocked(MessageHello, h.hello)
	if err != nil {
		h.logger.Printf("encode hello: %v", err)
		return false
	}
	c.send = make(chan []byte, clientBuffer+len(h.live)+1)
	h.clients[c] = struct{}{}
	h.queueLocked(c, hello)
	for _, m := range h.live {
		b, err := h.encodeLocked(MessageMesh, m)
		if err != nil {
			continue
		}
		h.queueLocked(c, b)
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// Handler upgrades the request and serves the connection until either side
// closes it.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{conn: conn}
		if !h.register(c) {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "feed closed"), time.Now().Add(time.Second))
			return
		}
		h.logger.Printf("client %s connected", conn.RemoteAddr())

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for b := range c.send {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					h.unregister(c)
					return
				}
			}
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.dispatch(msg)
		}

		h.unregister(c)
		select {
		case <-writerDone:
		case <-time.After(500 * time.Millisecond):
		}
		h.logger.Printf("client %s disconnected", conn.RemoteAddr())
	}
}

func (h *Hub) dispatch(msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return
	}
	in := Input{Type: env.Type}
	switch env.Type {
	case MessageViewer:
		var v Viewer
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return
		}
		in.Viewer = v.Position
	case MessageTerraform:
		if err := json.Unmarshal(env.Payload, &in.Terraform); err != nil {
			return
		}
	default:
		return
	}
	select {
	case h.inputs <- in:
	default:
		// The driver is behind; clients resend viewer updates every frame.
	}
}
