// Package signal follows a router's status websocket.
package signal

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fest_router/native/internal/domain"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const defaultPingInterval = 30 * time.Second

// Client manages the WebSocket connection to the router's status feed.
type Client struct {
	url          string
	token        string
	handler      domain.StatusHandler
	pingInterval time.Duration

	conn   *websocket.Conn
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// NewClient creates a status feed client for the router at baseURL
// (http or https).
func NewClient(baseURL, token string, handler domain.StatusHandler) *Client {
	return &Client{
		url:          baseURL,
		token:        token,
		handler:      handler,
		pingInterval: defaultPingInterval,
		closed:       make(chan struct{}),
	}
}

// Connect dials the status WebSocket and starts the read loop.
func (c *Client) Connect() error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parse router url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/status"

	log.Printf("[signal] connecting to %s", u.String())

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	go c.pingLoop()

	return nil
}

// Close shuts down the WebSocket connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.mu.Lock()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.mu.Unlock()
			c.conn.Close()
		}
	})
}

// Done is closed once the feed has stopped.
func (c *Client) Done() <-chan struct{} { return c.closed }

func (c *Client) readLoop() {
	var readErr error
	defer func() {
		select {
		case <-c.closed:
			readErr = nil
		default:
		}
		c.Close()
		c.handler.OnDisconnect(readErr)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var msg domain.FeedMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			log.Printf("[signal] unmarshal error: %v", err)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg domain.FeedMessage) {
	switch msg.Type {
	case domain.FeedState:
		if msg.State != nil {
			c.handler.OnState(*msg.State)
		}
	case domain.FeedStatus:
		if msg.Event != nil {
			c.handler.OnStatus(*msg.Event)
		}
	default:
		log.Printf("[signal] unhandled frame: %s", msg.Type)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					log.Printf("[signal] ping error: %v", err)
				}
				return
			}
		}
	}
}
