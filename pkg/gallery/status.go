package gallery

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

var writeWait = 10 * time.Second

// Status is the progress message pushed to gallery viewers.
type Status struct {
	Busy    bool   `json:"busy"`
	Message string `json:"message"`
	Index   int    `json:"index,omitempty"`
	Total   int    `json:"total,omitempty"`
	Error   string `json:"error,omitempty"`
}

// viewerQueue is how many updates may wait for a slow viewer before it is dropped.
const viewerQueue = 16

// viewer is a websocket connection with its own outgoing queue, drained by write.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans status updates out to connected viewers.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*viewer]bool
	last    Status
}

// NewHub returns a hub with no viewers.
func NewHub() *Hub {
	return &Hub{clients: map[*viewer]bool{}}
}

// Broadcast records s as the current status and queues it for every viewer. It never waits on
// the network; viewers whose queue is full are dropped.
func (h *Hub) Broadcast(s Status) {
	bs, err := json.Marshal(s)
	if err != nil {
		klog.Errorf("marshal status: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = s
	for v := range h.clients {
		select {
		case v.send <- bs:
		default:
			klog.V(1).Infof("dropping stalled viewer")
			h.drop(v)
		}
	}
}

// Last returns the most recent status.
func (h *Hub) Last() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// drop must be called with h.mu held.
func (h *Hub) drop(v *viewer) {
	if h.clients[v] {
		delete(h.clients, v)
		close(v.send)
	}
}

func (h *Hub) register(c *websocket.Conn) (*viewer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bs, err := json.Marshal(h.last)
	if err != nil {
		return nil, err
	}
	v := &viewer{conn: c, send: make(chan []byte, viewerQueue)}
	v.send <- bs
	h.clients[v] = true
	klog.V(1).Infof("viewer connected, total: %d", len(h.clients))
	return v, nil
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(v)
}

// write sends queued updates to the viewer until its queue is closed or a write fails.
func (h *Hub) write(v *viewer) {
	defer v.conn.Close()
	for bs := range v.send {
		if err := v.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			klog.V(1).Infof("viewer deadline: %v", err)
			return
		}
		if err := v.conn.WriteMessage(websocket.TextMessage, bs); err != nil {
			klog.V(1).Infof("viewer write: %v", err)
			return
		}
	}
	_ = v.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// Handler upgrades viewers to a websocket carrying status updates.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			klog.Warningf("websocket upgrade: %v", err)
			return
		}
		c.SetReadLimit(512)

		v, err := h.register(c)
		if err != nil {
			klog.Warningf("register viewer: %v", err)
			c.Close()
			return
		}
		defer h.unregister(v)
		go h.write(v)

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}
}
