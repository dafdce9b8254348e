package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"fest_router/native/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Hub streams Router status to websocket clients.
type Hub struct {
	ctrl Controller

	mu      sync.Mutex
	clients map[*statusClient]struct{}
	closed  bool
}

type statusClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewHub(ctrl Controller) *Hub {
	return &Hub{ctrl: ctrl, clients: make(map[*statusClient]struct{})}
}

// Serve upgrades the request, sends the current state and then every
// status event until the client goes away.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[api] upgrade status feed: %v", err)
		return
	}

	client := &statusClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if !h.add(client) {
		conn.Close()
		return
	}

	cancel := h.ctrl.Subscribe(func(ev domain.StatusEvent) {
		client.enqueue(domain.FeedMessage{Type: domain.FeedStatus, Event: &ev})
	})
	st := h.ctrl.State()
	client.enqueue(domain.FeedMessage{Type: domain.FeedState, State: &st})

	log.Printf("[api] status client %s connected", conn.RemoteAddr())
	go client.writePump()
	client.readPump()

	cancel()
	h.remove(client)
	log.Printf("[api] status client %s disconnected", conn.RemoteAddr())
}

// Close disconnects every status client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*statusClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
}

func (h *Hub) add(c *statusClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *statusClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

func (c *statusClient) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *statusClient) enqueue(msg domain.FeedMessage) {
	data, err := api.Marshal(msg)
	if err != nil {
		log.Printf("[api] marshal feed message: %v", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		log.Printf("[api] status client %s too slow, dropping event", c.conn.RemoteAddr())
	}
}

// readPump discards client frames; it only notices pongs and disconnects.
func (c *statusClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		<-c.done
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *statusClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		}
	}
}
