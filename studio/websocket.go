package studio

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mostlygeek/genstudio/backend"
)

const (
	channelJobs      = "jobs"
	channelLogs      = "logs"
	channelJobPrefix = "job."

	actionUpdate = "update"
	actionAppend = "append"
	actionError  = "error"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is sent to clients on a channel they subscribed to.
type WSMessage struct {
	Channel string `json:"channel"`
	Action  string `json:"action"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WSHub tracks connected clients and fans broadcasts out to subscribers.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex
}

// WSClient is one websocket connection. Channel subscriptions that need a
// producer (logs, a single job) keep its cancel func.
type WSClient struct {
	hub           *WSHub
	conn          *websocket.Conn
	send          chan WSMessage
	subscriptions map[string]context.CancelFunc
	mu            sync.Mutex
	pm            *Manager
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
}

func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			var slow []*WSClient
			h.mu.RLock()
			for client := range h.clients {
				if !client.subscribed(message.Channel) {
					continue
				}
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			// clients that cannot keep up are dropped
			for _, client := range slow {
				h.remove(client)
			}
		}
	}
}

func (h *WSHub) remove(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast sends a message to all clients subscribed to its channel.
func (h *WSHub) Broadcast(message WSMessage) {
	select {
	case h.broadcast <- message:
	default:
	}
}

// HandleWebSocket upgrades the connection. Clients then send
// {"action":"subscribe","channel":"..."} messages.
func (pm *Manager) HandleWebSocket(c *gin.Context) {
	pm.serveWebSocket(c, "")
}

// apiStatusWebSocket upgrades the connection already subscribed to one
// job's channel.
func (pm *Manager) apiStatusWebSocket(c *gin.Context) {
	if _, err := pm.resolver.Resolve(c.Request.Context(), c.Param("slug")); err != nil {
		pm.sendError(c, err)
		return
	}
	pm.serveWebSocket(c, jobChannel(c.Param("slug"), c.Param("id")))
}

func jobChannel(slug, id string) string {
	return channelJobPrefix + slug + "." + id
}

func (pm *Manager) serveWebSocket(c *gin.Context, initial string) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		pm.logger.Warnf("<studio> websocket upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(pm.shutdownCtx)
	client := &WSClient{
		hub:           pm.wsHub,
		conn:          conn,
		send:          make(chan WSMessage, 256),
		subscriptions: make(map[string]context.CancelFunc),
		pm:            pm,
		ctx:           ctx,
		cancel:        cancel,
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		cancel()
		conn.Close()
		return
	}
	if initial != "" {
		client.subscribe(initial)
	}

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) readPump() {
	defer func() {
		c.cancel()
		c.mu.Lock()
		for channel, stop := range c.subscriptions {
			stop()
			delete(c.subscriptions, channel)
		}
		c.mu.Unlock()

		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.pm.logger.Debugf("<studio> websocket read error: %v", err)
			}
			return
		}

		var sub struct {
			Action  string `json:"action"`
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(message, &sub); err != nil {
			c.trySend(WSMessage{Action: actionError, Error: "invalid message"})
			continue
		}

		switch sub.Action {
		case "subscribe":
			c.subscribe(sub.Channel)
		case "unsubscribe":
			c.unsubscribe(sub.Channel)
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.subscriptions[channel]; exists {
		return
	}

	switch {
	case channel == channelJobs:
		c.subscriptions[channel] = func() {}
	case channel == channelLogs:
		c.subscriptions[channel] = c.pm.logger.OnLogData(func(data []byte) {
			c.trySend(WSMessage{Channel: channel, Action: actionAppend, Data: string(data)})
		})
	case strings.HasPrefix(channel, channelJobPrefix):
		ctx, cancel := context.WithCancel(c.ctx)
		c.subscriptions[channel] = cancel
		go c.watchJob(ctx, channel)
	default:
		c.trySend(WSMessage{Channel: channel, Action: actionError, Error: "unknown channel"})
	}
}

func (c *WSClient) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stop, exists := c.subscriptions[channel]; exists {
		stop()
		delete(c.subscriptions, channel)
	}
}

// watchJob polls the job named by a job.<slug>.<id> channel until it is
// terminal. Slugs may contain dots, so the id is the last segment.
func (c *WSClient) watchJob(ctx context.Context, channel string) {
	ref := strings.TrimPrefix(channel, channelJobPrefix)
	dot := strings.LastIndex(ref, ".")
	if dot <= 0 || dot == len(ref)-1 {
		c.trySend(WSMessage{Channel: channel, Action: actionError, Error: "channel must be job.<slug>.<id>"})
		return
	}
	slug, id := ref[:dot], ref[dot+1:]

	cfg, err := c.pm.resolver.Resolve(ctx, slug)
	if err != nil {
		c.trySend(WSMessage{Channel: channel, Action: actionError, Error: err.Error()})
		return
	}

	_, err = c.pm.dispatcher.Watch(ctx, cfg, &backend.JobHandle{ID: id}, c.pm.watchInterval, func(h *backend.JobHandle) {
		c.trySend(WSMessage{Channel: channel, Action: actionUpdate, Data: h})
	})
	if err != nil && ctx.Err() == nil {
		c.trySend(WSMessage{Channel: channel, Action: actionError, Error: err.Error()})
	}
}

// trySend drops the message when the client buffer is full or the
// connection is gone.
func (c *WSClient) trySend(message WSMessage) {
	defer func() {
		// send may already be closed by the hub
		recover()
	}()
	select {
	case c.send <- message:
	case <-c.ctx.Done():
	default:
	}
}
