package websocket

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/events"
	"github.com/irfndi/SimpleFund/internal/models"
)

// MessageType represents different types of WebSocket messages
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeEvent       MessageType = "event"
	MessageTypeError       MessageType = "error"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
)

// Subscription topic prefixes
const (
	TopicOrders    = "orders"
	TopicFunds     = "funds"
	TopicPools     = "pools"
	TopicInvestors = "investors"
)

// Message represents a generic WebSocket message
type Message struct {
	Type      MessageType   `json:"type"`
	Topic     string        `json:"topic,omitempty"`
	Event     *events.Event `json:"event,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Error     string      `json:"error"`
	Code      int         `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConnectionStats represents WebSocket connection statistics
type ConnectionStats struct {
	TotalConnections   int       `json:"total_connections"`
	ActiveConnections  int       `json:"active_connections"`
	TotalSubscriptions int       `json:"total_subscriptions"`
	MessagesSent       int64     `json:"messages_sent"`
	MessagesDropped    int64     `json:"messages_dropped"`
	LastUpdate         time.Time `json:"last_update"`
}

// authorizeTopic checks that actor may receive events on topic.
//
//	orders, orders:<order_id>  managers only
//	investors:<investor_id>    the investor themself or a manager
//	funds:<id>, pools:<id>     anyone
func authorizeTopic(actor auth.Actor, topic string) (int, error) {
	prefix, key, _ := strings.Cut(topic, ":")
	switch prefix {
	case TopicOrders:
		if actor.ID == "" {
			return 401, fmt.Errorf("authentication required for %s", prefix)
		}
		if !actor.HasRole(models.RoleManager) {
			return 403, fmt.Errorf("manager role required for %s", prefix)
		}
	case TopicInvestors:
		if key == "" {
			return 400, fmt.Errorf("investor id required")
		}
		if actor.ID == "" {
			return 401, fmt.Errorf("authentication required for %s", prefix)
		}
		if actor.ID != key && !actor.HasRole(models.RoleManager) {
			return 403, fmt.Errorf("cannot subscribe to another investor")
		}
	case TopicFunds, TopicPools:
		if _, err := strconv.ParseUint(key, 10, 64); err != nil {
			return 400, fmt.Errorf("numeric id required for %s", prefix)
		}
	default:
		return 400, fmt.Errorf("invalid subscription topic")
	}
	return 0, nil
}
