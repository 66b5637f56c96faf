package presence

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/protocol"
	"github.com/loqui/messenger/internal/ws"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *fakePublisher) PublishPresenceEvent(data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

var testFd int

// newWatchedConn registers a connection for userID and returns a channel of
// decoded frames received on its client side.
func newWatchedConn(t *testing.T, r *ws.ConnectionRegistry, userID string) <-chan map[string]interface{} {
	t.Helper()
	server, client := net.Pipe()
	testFd++

	c := &ws.Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		Conn:      server,
		Fd:        testFd,
		CreatedAt: time.Now(),
	}
	c.Touch()

	frames := make(chan map[string]interface{}, 16)
	go func() {
		defer close(frames)
		for {
			data, err := wsutil.ReadServerText(client)
			if err != nil {
				return
			}
			var decoded map[string]interface{}
			if err := json.Unmarshal(data, &decoded); err != nil {
				continue
			}
			frames <- decoded
		}
	}()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	r.Register(c)
	return frames
}

func waitFrame(t *testing.T, frames <-chan map[string]interface{}) map[string]interface{} {
	t.Helper()
	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("frame channel closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestOnlineTransitionBroadcastsAndPublishes(t *testing.T) {
	registry := ws.NewConnectionRegistry()
	pub := &fakePublisher{}
	b := NewBroadcaster(registry, pub, nil, "node-1")
	b.Start()

	watcher := newWatchedConn(t, registry, "watcher")
	// Drain the watcher's own online broadcast.
	f := waitFrame(t, watcher)
	if f["type"] != protocol.TypeUserOnline || f["user_id"] != "watcher" {
		t.Fatalf("unexpected first frame: %v", f)
	}

	newWatchedConn(t, registry, "alice")

	f = waitFrame(t, watcher)
	if f["type"] != protocol.TypeUserOnline {
		t.Fatalf("expected user_online, got %v", f["type"])
	}
	if f["user_id"] != "alice" {
		t.Fatalf("expected user_id alice, got %v", f["user_id"])
	}

	events := pub.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(events))
	}
	last := events[1]
	if last.UserID != "alice" || !last.Online || last.Node != "node-1" {
		t.Fatalf("unexpected published event: %+v", last)
	}
}

func TestSecondDeviceEmitsNoDuplicateOnline(t *testing.T) {
	registry := ws.NewConnectionRegistry()
	pub := &fakePublisher{}
	b := NewBroadcaster(registry, pub, nil, "node-1")
	b.Start()

	newWatchedConn(t, registry, "bob")
	newWatchedConn(t, registry, "bob")

	// Give any stray broadcast a moment to land.
	time.Sleep(50 * time.Millisecond)

	if got := len(pub.all()); got != 1 {
		t.Fatalf("expected 1 online event for two devices, got %d", got)
	}
}

func TestRemoteEventRebroadcastLocally(t *testing.T) {
	registry := ws.NewConnectionRegistry()
	b := NewBroadcaster(registry, nil, nil, "node-1")
	b.Start()

	watcher := newWatchedConn(t, registry, "watcher")
	waitFrame(t, watcher) // watcher's own online frame

	data, _ := json.Marshal(Event{UserID: "remote-user", Online: false, Node: "node-2"})
	b.HandleRemote(data)

	f := waitFrame(t, watcher)
	if f["type"] != protocol.TypeUserOffline || f["user_id"] != "remote-user" {
		t.Fatalf("unexpected frame: %v", f)
	}
}

func TestRemoteEventFromOwnNodeIgnored(t *testing.T) {
	registry := ws.NewConnectionRegistry()
	b := NewBroadcaster(registry, nil, nil, "node-1")
	b.Start()

	watcher := newWatchedConn(t, registry, "watcher")
	waitFrame(t, watcher) // watcher's own online frame

	data, _ := json.Marshal(Event{UserID: "someone", Online: true, Node: "node-1"})
	b.HandleRemote(data)

	select {
	case f := <-watcher:
		t.Fatalf("expected no rebroadcast of own-node event, got %v", f)
	case <-time.After(100 * time.Millisecond):
	}
}
