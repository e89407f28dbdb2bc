package websocket

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/irfndi/SimpleFund/internal/events"
	"github.com/irfndi/SimpleFund/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Hub maintains the set of active clients and fans domain events out to topic subscribers.
// A client's Send channel is closed only under the write lock; sends happen under the read lock.
type Hub struct {
	// Registered clients
	Clients map[*Client]bool

	// Register requests from the clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Topic subscriptions: topic -> clients
	Subscriptions map[string]map[*Client]bool

	Stats ConnectionStats

	mu       sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
	metrics  *metrics.Collector
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		Clients:       make(map[*Client]bool),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		Subscriptions: make(map[string]map[*Client]bool),
		stop:          make(chan struct{}),
		Stats:         ConnectionStats{LastUpdate: time.Now()},
		metrics:       metrics.GetCollector(),
	}
}

// Run handles client registration until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
		case <-h.stop:
			return
		}
	}
}

// unregister hands client to the run loop, or removes it directly once the hub stopped
func (h *Hub) unregister(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.stop:
		h.mu.Lock()
		h.removeLocked(client)
		h.mu.Unlock()
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Clients[client] = true
	h.Stats.TotalConnections++
	h.Stats.ActiveConnections++
	h.Stats.LastUpdate = time.Now()
	h.metrics.RecordWSConnection(1)

	logrus.WithFields(logrus.Fields{
		"client_id": client.ID,
		"actor":     client.Actor.ID,
		"active":    h.Stats.ActiveConnections,
	}).Debug("WebSocket client registered")
}

// removeLocked drops client and all its subscriptions. Caller holds h.mu.
func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.Clients[client]; !ok {
		return
	}
	delete(h.Clients, client)
	close(client.Send)
	h.Stats.ActiveConnections--
	h.Stats.LastUpdate = time.Now()
	h.metrics.RecordWSConnection(-1)

	for topic, clients := range h.Subscriptions {
		if _, subscribed := clients[client]; subscribed {
			delete(clients, client)
			h.Stats.TotalSubscriptions--
			if len(clients) == 0 {
				delete(h.Subscriptions, topic)
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"client_id": client.ID,
		"active":    h.Stats.ActiveConnections,
	}).Debug("WebSocket client unregistered")
}

// Subscribe adds client to topic. Registration must have completed.
func (h *Hub) Subscribe(client *Client, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.Clients[client] {
		return false
	}
	if h.Subscriptions[topic] == nil {
		h.Subscriptions[topic] = make(map[*Client]bool)
	}
	if !h.Subscriptions[topic][client] {
		h.Subscriptions[topic][client] = true
		h.Stats.TotalSubscriptions++
		h.Stats.LastUpdate = time.Now()
	}
	return true
}

// Unsubscribe removes client from topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.Subscriptions[topic]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	h.Stats.TotalSubscriptions--
	h.Stats.LastUpdate = time.Now()
	if len(clients) == 0 {
		delete(h.Subscriptions, topic)
	}
}

// sendTo delivers data to one registered client without blocking
func (h *Hub) sendTo(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.Clients[client] {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		return false
	}
}

// BroadcastToTopic sends message to every subscriber of topic. Subscribers whose
// buffer is full are disconnected.
func (h *Hub) BroadcastToTopic(topic string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).WithField("topic", topic).Error("Failed to marshal WebSocket message")
		return
	}

	var slow []*Client
	var sent int64

	h.mu.RLock()
	for client := range h.Subscriptions[topic] {
		select {
		case client.Send <- data:
			sent++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if sent == 0 && len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range slow {
		h.removeLocked(client)
	}
	h.Stats.MessagesSent += sent
	h.Stats.MessagesDropped += int64(len(slow))
	h.Stats.LastUpdate = time.Now()
	h.mu.Unlock()
}

// Publish implements events.Publisher by routing the event to its topics
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	for _, topic := range TopicsFor(event) {
		ev := event
		h.BroadcastToTopic(topic, Message{
			Type:      MessageTypeEvent,
			Topic:     topic,
			Event:     &ev,
			Timestamp: time.Now(),
		})
	}
	return nil
}

// routingKeys are the payload fields used to pick topics
type routingKeys struct {
	FundID     uint   `json:"fund_id"`
	InvestorID string `json:"investor_id"`
}

// TopicsFor lists the topics an event is delivered on
func TopicsFor(event events.Event) []string {
	var keys routingKeys
	if len(event.Payload) > 0 {
		_ = json.Unmarshal(event.Payload, &keys)
	}

	var topics []string
	switch {
	case strings.HasPrefix(event.Type, "order."):
		topics = append(topics, TopicOrders, TopicOrders+":"+event.AggregateID)
		if keys.InvestorID != "" {
			topics = append(topics, TopicInvestors+":"+keys.InvestorID)
		}
	case strings.HasPrefix(event.Type, "pool."):
		topics = append(topics, TopicPools+":"+event.AggregateID)
	}
	if keys.FundID != 0 {
		topics = append(topics, TopicFunds+":"+strconv.FormatUint(uint64(keys.FundID), 10))
	}
	return topics
}

// GetStats returns current connection statistics
func (h *Hub) GetStats() ConnectionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Stats
}

// GetClientCount returns the number of active clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients)
}

// GetSubscriptionCount returns the total number of subscriptions
func (h *Hub) GetSubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.Subscriptions {
		count += len(clients)
	}
	return count
}

// Stop stops the hub and closes all client send channels; WritePump sends the close frame
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)

		h.mu.Lock()
		for client := range h.Clients {
			h.removeLocked(client)
		}
		h.mu.Unlock()
	})
}
