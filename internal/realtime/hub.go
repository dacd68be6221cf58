package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The menu is public and customers connect from arbitrary origins.
		return true
	},
}

type wsMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	Channel   string      `json:"channel"`
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan wsMessage
	key    string
	hub    *Hub
	logger *logrus.Logger
}

// Hub fans change events out to WebSocket clients grouped by channel key.
// The first client attaching to a key establishes a bus subscription for
// that key; the last one leaving tears it down.
type Hub struct {
	bus    *Bus
	logger *logrus.Logger

	mu       sync.Mutex
	channels map[string]*hubChannel
}

type hubChannel struct {
	clients map[*wsClient]struct{}
	sub     *Subscription
}

func NewHub(bus *Bus, logger *logrus.Logger) *Hub {
	return &Hub{
		bus:      bus,
		logger:   logger,
		channels: make(map[string]*hubChannel),
	}
}

// HandleChannel upgrades the request and attaches the client to the channel
// computed by keyFn (merchant or single-order).
func (h *Hub) HandleChannel(keyFn func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := keyFn(r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
			return
		}

		client := &wsClient{
			conn:   conn,
			send:   make(chan wsMessage, 64),
			key:    key,
			hub:    h,
			logger: h.logger,
		}

		if err := h.register(client); err != nil {
			h.logger.WithError(err).WithField("channel", key).Error("Failed to attach WebSocket client")
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (h *Hub) register(c *wsClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[c.key]
	if !ok {
		sub, err := h.bus.Subscribe(c.key)
		if err != nil {
			return err
		}
		ch = &hubChannel{clients: make(map[*wsClient]struct{}), sub: sub}
		h.channels[c.key] = ch
		go h.forward(c.key, sub)
	}
	ch.clients[c] = struct{}{}
	h.logger.WithFields(logrus.Fields{
		"channel":      c.key,
		"client_count": len(ch.clients),
	}).Info("WebSocket client connected")
	return nil
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[c.key]
	if !ok {
		return
	}
	if _, ok := ch.clients[c]; !ok {
		return
	}
	delete(ch.clients, c)
	close(c.send)
	if len(ch.clients) == 0 {
		ch.sub.Close()
		delete(h.channels, c.key)
	}
	h.logger.WithFields(logrus.Fields{
		"channel":      c.key,
		"client_count": len(ch.clients),
	}).Info("WebSocket client disconnected")
}

// forward drains the bus subscription for a key into its clients. A client
// with a full send buffer is dropped rather than allowed to stall the
// channel; it will reconcile by reloading on reconnect.
func (h *Hub) forward(key string, sub *Subscription) {
	for event := range sub.C {
		msg := wsMessage{
			Type:      string(event.Type),
			Data:      event,
			Timestamp: time.Now().Format(time.RFC3339),
			Channel:   key,
		}

		h.mu.Lock()
		ch, ok := h.channels[key]
		if !ok {
			h.mu.Unlock()
			return
		}
		var stalled []*wsClient
		for client := range ch.clients {
			select {
			case client.send <- msg:
			default:
				stalled = append(stalled, client)
			}
		}
		h.mu.Unlock()

		for _, client := range stalled {
			h.logger.WithField("channel", key).Warn("WebSocket client send buffer full, disconnecting")
			h.unregister(client)
			client.conn.Close()
		}
	}

	// The loop ends when the subscription closes. If the bus detached it
	// for overflow, drop the clients too so they reconnect and reload.
	if !sub.Overflowed() {
		return
	}

	h.mu.Lock()
	ch, ok := h.channels[key]
	if !ok || ch.sub != sub {
		h.mu.Unlock()
		return
	}
	delete(h.channels, key)
	clients := make([]*wsClient, 0, len(ch.clients))
	for client := range ch.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	h.logger.WithField("channel", key).Warn("Channel subscription overflowed, disconnecting clients")
	for _, client := range clients {
		close(client.send)
		client.conn.Close()
	}
}

// ClientCount reports attached clients across all channels.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ch := range h.channels {
		n += len(ch.clients)
	}
	return n
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

func (c *wsClient) writePump() {
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

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.WithError(err).Error("Failed to marshal WebSocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
