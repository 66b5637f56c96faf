package presence

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/loqui/messenger/internal/protocol"
	"github.com/loqui/messenger/internal/ws"
)

// Event is the NATS payload carrying a presence transition between nodes.
type Event struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
	Node   string `json:"node"`
}

// Publisher publishes presence events for other realtime nodes.
type Publisher interface {
	PublishPresenceEvent(data []byte) error
}

// Broadcaster subscribes to the connection registry's online/offline
// transitions and fans each one out to all locally connected clients, to
// other nodes over NATS, and to the Redis presence store. It holds no state
// of its own; idempotence on duplicate online events comes from the registry
// only firing on first-connection/last-connection boundaries.
type Broadcaster struct {
	registry  *ws.ConnectionRegistry
	publisher Publisher
	store     *Store // optional; nil skips persistence
	node      string
}

// NewBroadcaster wires a broadcaster to the given registry. Call Start to
// begin receiving transitions.
func NewBroadcaster(registry *ws.ConnectionRegistry, publisher Publisher, store *Store, node string) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		publisher: publisher,
		store:     store,
		node:      node,
	}
}

// Start subscribes to registry presence transitions.
func (b *Broadcaster) Start() {
	b.registry.SubscribePresence(b.handleLocal)
}

// handleLocal processes a transition originating on this node: broadcast to
// local clients, publish for other nodes, persist last-seen.
func (b *Broadcaster) handleLocal(userID string, online bool) {
	b.broadcast(userID, online)

	if b.publisher != nil {
		data, err := json.Marshal(Event{UserID: userID, Online: online, Node: b.node})
		if err != nil {
			log.Printf("[presence] marshal event user=%s: %v", userID, err)
		} else if err := b.publisher.PublishPresenceEvent(data); err != nil {
			log.Printf("[presence] publish event user=%s: %v", userID, err)
		}
	}

	if b.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		var err error
		if online {
			err = b.store.MarkOnline(ctx, userID)
		} else {
			err = b.store.MarkOffline(ctx, userID)
		}
		if err != nil {
			log.Printf("[presence] store user=%s online=%v: %v", userID, online, err)
		}
	}
}

// HandleRemote processes a presence event received over NATS from another
// node and rebroadcasts it to this node's local clients. Events originating
// on this node are skipped (they were already broadcast locally).
func (b *Broadcaster) HandleRemote(data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[presence] invalid remote event: %v", err)
		return
	}
	if ev.Node == b.node {
		return
	}
	b.broadcast(ev.UserID, ev.Online)
}

// broadcast sends the transition frame to every locally connected client.
// Any connected party may be showing this user's status, so this is a true
// broadcast rather than a targeted send.
func (b *Broadcaster) broadcast(userID string, online bool) {
	frameType := protocol.TypeUserOnline
	if !online {
		frameType = protocol.TypeUserOffline
	}

	frame, err := protocol.NewServerFrame(frameType, protocol.PresenceFrame{UserID: userID})
	if err != nil {
		log.Printf("[presence] build frame user=%s: %v", userID, err)
		return
	}
	b.registry.Broadcast(frame)
}
