// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the realtime core, the CRUD/storage layer, and the push worker.
// It handles connection lifecycle, subject-based subscriptions, and
// convenience methods for the delivery and call-signaling channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used across messenger services.
const (
	// SubjectPresence carries user online/offline transitions between
	// realtime nodes so every node can rebroadcast to its local clients.
	SubjectPresence = "presence.event"

	// SubjectPushDispatch is the queue of push-notification jobs consumed
	// by the push worker.
	SubjectPushDispatch = "push.dispatch"

	// SubjectMessageCreated is published by the storage layer after a chat
	// message has been persisted and assigned its sequence number.
	SubjectMessageCreated = "message.created"

	// SubjectReactionCreated is published by the storage layer after a
	// reaction has been persisted.
	SubjectReactionCreated = "reaction.created"

	// SubjectCallFinalize bridges the call-media provider's room-ended
	// webhook (or the client's end-of-call report) into the signaling engine.
	SubjectCallFinalize = "call.finalize"
)

// pushQueueGroup makes push workers share the job stream instead of each
// receiving every job.
const pushQueueGroup = "push-workers"

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
		Name:          "messenger-rt",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
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

// PublishPresenceEvent publishes a user online/offline transition for other
// realtime nodes to rebroadcast.
func (c *NATSClient) PublishPresenceEvent(data []byte) error {
	return c.Publish(SubjectPresence, data)
}

// SubscribePresenceEvents subscribes to presence transitions from all nodes
// (including this one; the handler filters out its own).
func (c *NATSClient) SubscribePresenceEvents(handler func(data []byte)) error {
	return c.Subscribe(SubjectPresence, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishPushJob enqueues a push-notification job. Fire-and-forget: the
// realtime core never observes the outcome; the push worker owns retries.
func (c *NATSClient) PublishPushJob(data []byte) error {
	return c.Publish(SubjectPushDispatch, data)
}

// SubscribePushJobs subscribes to push jobs as part of the shared worker
// queue group, so each job is delivered to exactly one worker.
func (c *NATSClient) SubscribePushJobs(handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectPushDispatch, pushQueueGroup, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", SubjectPushDispatch, err)
	}

	c.mu.Lock()
	c.subs[SubjectPushDispatch] = sub
	c.mu.Unlock()
	return nil
}

// PublishMessageCreated publishes a persisted-message event. Exposed for the
// storage layer and for tests.
func (c *NATSClient) PublishMessageCreated(data []byte) error {
	return c.Publish(SubjectMessageCreated, data)
}

// SubscribeMessageCreated subscribes to persisted-message events from the
// storage layer.
func (c *NATSClient) SubscribeMessageCreated(handler func(data []byte)) error {
	return c.Subscribe(SubjectMessageCreated, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishReactionCreated publishes a persisted-reaction event.
func (c *NATSClient) PublishReactionCreated(data []byte) error {
	return c.Publish(SubjectReactionCreated, data)
}

// SubscribeReactionCreated subscribes to persisted-reaction events.
func (c *NATSClient) SubscribeReactionCreated(handler func(data []byte)) error {
	return c.Subscribe(SubjectReactionCreated, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishCallFinalize publishes an out-of-band end-of-call report (media
// provider webhook or client report).
func (c *NATSClient) PublishCallFinalize(data []byte) error {
	return c.Publish(SubjectCallFinalize, data)
}

// SubscribeCallFinalize subscribes to end-of-call reports.
func (c *NATSClient) SubscribeCallFinalize(handler func(data []byte)) error {
	return c.Subscribe(SubjectCallFinalize, func(msg *nats.Msg) {
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
