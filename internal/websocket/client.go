package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Client represents a WebSocket client connection
type Client struct {
	ID            string
	Actor         auth.Actor
	Conn          *websocket.Conn
	Hub           *Hub
	Send          chan []byte
	Subscriptions map[string]bool
	mu            sync.RWMutex
}

// NewClient creates a new WebSocket client. actor is zero for anonymous connections.
func NewClient(conn *websocket.Conn, hub *Hub, id string, actor auth.Actor) *Client {
	return &Client{
		ID:            id,
		Actor:         actor,
		Conn:          conn,
		Hub:           hub,
		Send:          make(chan []byte, sendBuffer),
		Subscriptions: make(map[string]bool),
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("client_id", c.ID).Warn("WebSocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("Invalid message format", 400)
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.handleSubscribe(msg.Topic)
	case MessageTypeUnsubscribe:
		c.handleUnsubscribe(msg.Topic)
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong, Timestamp: time.Now()})
	default:
		c.sendError("Unknown message type", 400)
	}
}

func (c *Client) handleSubscribe(topic string) {
	if code, err := authorizeTopic(c.Actor, topic); err != nil {
		c.sendError(err.Error(), code)
		return
	}
	if !c.Hub.Subscribe(c, topic) {
		return
	}

	c.mu.Lock()
	c.Subscriptions[topic] = true
	c.mu.Unlock()

	c.reply(Message{Type: MessageTypeSubscribe, Topic: topic, Timestamp: time.Now()})
}

func (c *Client) handleUnsubscribe(topic string) {
	c.Hub.Unsubscribe(c, topic)

	c.mu.Lock()
	delete(c.Subscriptions, topic)
	c.mu.Unlock()

	c.reply(Message{Type: MessageTypeUnsubscribe, Topic: topic, Timestamp: time.Now()})
}

func (c *Client) sendError(errorMsg string, code int) {
	c.reply(ErrorMessage{
		Type:      MessageTypeError,
		Error:     errorMsg,
		Code:      code,
		Timestamp: time.Now(),
	})
}

func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Hub.sendTo(c, data)
}

// IsSubscribed checks if the client is subscribed to a topic
func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Subscriptions[topic]
}
