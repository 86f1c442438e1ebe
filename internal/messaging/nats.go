// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the chat server and the AI worker. It handles connection lifecycle,
// subject-based subscriptions, and convenience methods for the room broadcast
// and AI request/reply channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across chat services.
const (
	SubjectRoom    = "room"     // + .<room_id>, room broadcast fan-in
	SubjectAIReq   = "ai.request"
	SubjectAIReply = "ai.reply" // + .<session_id>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "atlaschat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeToRoom subscribes this server instance to the room.<roomID>
// subject. One subscription per room per instance: it is created when the
// first local member joins and removed when the last one leaves. NATS
// guarantees per-subject delivery order, which is what makes the subject's
// publish order the room's total message order.
func (c *NATSClient) SubscribeToRoom(roomID string, handler func(data []byte)) error {
	subject := SubjectRoom + "." + roomID
	c.mu.Lock()
	if _, exists := c.subs[subject]; exists {
		c.mu.Unlock()
		return nil // already subscribed
	}
	c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeFromRoom removes this instance's subscription for a room.
func (c *NATSClient) UnsubscribeFromRoom(roomID string) error {
	return c.unsubscribe(SubjectRoom + "." + roomID)
}

// PublishRoomEvent publishes data to the room.<roomID> subject.
func (c *NATSClient) PublishRoomEvent(roomID string, data []byte) error {
	return c.Publish(SubjectRoom+"."+roomID, data)
}

// PublishAIRequest publishes an AI prompt for the AI worker to pick up.
func (c *NATSClient) PublishAIRequest(data []byte) error {
	return c.Publish(SubjectAIReq, data)
}

// SubscribeAIRequests subscribes the AI worker to incoming prompts.
func (c *NATSClient) SubscribeAIRequests(handler func(data []byte)) error {
	return c.Subscribe(SubjectAIReq, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishAIReply publishes an AI reply addressed to a single session.
func (c *NATSClient) PublishAIReply(sessionID string, data []byte) error {
	return c.Publish(SubjectAIReply+"."+sessionID, data)
}

// SubscribeAIReplies subscribes to AI replies for sessions hosted on this
// server instance. The wildcard keeps it to one subscription per instance;
// the payload carries the target session id.
func (c *NATSClient) SubscribeAIReplies(handler func(data []byte)) error {
	return c.Subscribe(SubjectAIReply+".*", func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
