package ws

import (
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testFd int64

// newTestConn creates a Connection backed by an in-memory pipe. A goroutine
// drains the client side so that frame writes do not block. Closing the
// returned close function simulates the peer going away.
func newTestConn(t *testing.T, userID string) (*Connection, func()) {
	t.Helper()
	server, client := net.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	c := &Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		Conn:      server,
		Fd:        int(atomic.AddInt64(&testFd, 1)),
		CreatedAt: time.Now(),
	}
	c.Touch()

	closeFn := func() {
		client.Close()
		server.Close()
		<-done
	}
	t.Cleanup(closeFn)
	return c, closeFn
}

func TestRegisterFirstConnectionEmitsOnline(t *testing.T) {
	r := NewConnectionRegistry()

	var mu sync.Mutex
	var events []bool
	r.SubscribePresence(func(userID string, online bool) {
		mu.Lock()
		events = append(events, online)
		mu.Unlock()
	})

	c1, _ := newTestConn(t, "alice")
	c2, _ := newTestConn(t, "alice")

	r.Register(c1)
	r.Register(c2)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 presence event for two devices, got %d", len(events))
	}
	if !events[0] {
		t.Error("expected an online event")
	}
	if !r.IsOnline("alice") {
		t.Error("expected alice online")
	}
}

func TestUnregisterRemovesExactInstance(t *testing.T) {
	r := NewConnectionRegistry()

	var offline int
	r.SubscribePresence(func(userID string, online bool) {
		if !online {
			offline++
		}
	})

	c1, _ := newTestConn(t, "bob")
	c2, _ := newTestConn(t, "bob")
	r.Register(c1)
	r.Register(c2)

	if !r.Unregister(c1) {
		t.Fatal("expected Unregister to find c1")
	}
	if !r.IsOnline("bob") {
		t.Fatal("bob should still be online with one device left")
	}
	if offline != 0 {
		t.Fatalf("expected no offline event yet, got %d", offline)
	}

	// Second removal of the same instance is a no-op.
	if r.Unregister(c1) {
		t.Error("expected second Unregister of c1 to return false")
	}

	if !r.Unregister(c2) {
		t.Fatal("expected Unregister to find c2")
	}
	if r.IsOnline("bob") {
		t.Error("bob should be offline")
	}
	if offline != 1 {
		t.Errorf("expected exactly 1 offline event, got %d", offline)
	}
}

func TestOfflineHookFiresOnLastConnection(t *testing.T) {
	r := NewConnectionRegistry()

	var hooked []string
	r.OnUserOffline(func(userID string) {
		hooked = append(hooked, userID)
	})

	c1, _ := newTestConn(t, "carol")
	c2, _ := newTestConn(t, "carol")
	r.Register(c1)
	r.Register(c2)

	r.Unregister(c1)
	if len(hooked) != 0 {
		t.Fatalf("hook fired before last connection closed: %v", hooked)
	}

	r.Unregister(c2)
	if len(hooked) != 1 || hooked[0] != "carol" {
		t.Fatalf("expected hook for carol exactly once, got %v", hooked)
	}
}

func TestSendDeliversToAllDevices(t *testing.T) {
	r := NewConnectionRegistry()

	c1, _ := newTestConn(t, "dave")
	c2, _ := newTestConn(t, "dave")
	r.Register(c1)
	r.Register(c2)

	if !r.Send("dave", []byte(`{"v":1,"type":"new_message"}`)) {
		t.Fatal("expected Send to report delivery")
	}
}

func TestSendToOfflineUserReturnsFalse(t *testing.T) {
	r := NewConnectionRegistry()

	if r.Send("nobody", []byte("x")) {
		t.Fatal("expected Send to an offline user to return false")
	}
}

func TestSendCleansUpStaleConnections(t *testing.T) {
	r := NewConnectionRegistry()

	good, _ := newTestConn(t, "erin")
	bad, closeBad := newTestConn(t, "erin")
	r.Register(good)
	r.Register(bad)

	// Kill the second device's transport before sending.
	closeBad()

	if !r.Send("erin", []byte(`{"v":1,"type":"user_online"}`)) {
		t.Fatal("expected Send to succeed on the surviving device")
	}

	// The broken connection must have been unregistered as a side effect.
	if got := len(r.UserConnections("erin")); got != 1 {
		t.Fatalf("expected 1 live connection after cleanup, got %d", got)
	}
	if r.Get(bad.ID) != nil {
		t.Error("stale connection still reachable from lookup")
	}
	if !r.IsOnline("erin") {
		t.Error("erin should remain online on the surviving device")
	}
}

func TestSendAllDevicesDeadGoesOffline(t *testing.T) {
	r := NewConnectionRegistry()

	var offline int
	r.SubscribePresence(func(userID string, online bool) {
		if !online {
			offline++
		}
	})

	c, closeC := newTestConn(t, "frank")
	r.Register(c)
	closeC()

	if r.Send("frank", []byte("payload")) {
		t.Fatal("expected Send to fail when the only device is dead")
	}
	if r.IsOnline("frank") {
		t.Error("frank should be offline after the failed write cleaned up")
	}
	if offline != 1 {
		t.Errorf("expected 1 offline event, got %d", offline)
	}
}

// TestPresenceMatchesConnectionCount drives a randomized register/unregister
// sequence and checks the invariant: online ⇔ connection count > 0.
func TestPresenceMatchesConnectionCount(t *testing.T) {
	r := NewConnectionRegistry()
	rng := rand.New(rand.NewSource(7))

	var live []*Connection
	for i := 0; i < 200; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			c, _ := newTestConn(t, "grace")
			r.Register(c)
			live = append(live, c)
		} else {
			idx := rng.Intn(len(live))
			r.Unregister(live[idx])
			live = append(live[:idx], live[idx+1:]...)
		}

		if got, want := r.IsOnline("grace"), len(live) > 0; got != want {
			t.Fatalf("step %d: IsOnline=%v with %d live connections", i, got, len(live))
		}
		if got := len(r.UserConnections("grace")); got != len(live) {
			t.Fatalf("step %d: registry holds %d connections, expected %d", i, got, len(live))
		}
	}
}

func TestBroadcastSkipsNothing(t *testing.T) {
	r := NewConnectionRegistry()

	users := []string{"u1", "u2", "u3"}
	for _, u := range users {
		c, _ := newTestConn(t, u)
		r.Register(c)
	}

	r.Broadcast([]byte(`{"v":1,"type":"user_online","user_id":"u9"}`))

	if r.Count() != 3 {
		t.Fatalf("expected all 3 connections to survive broadcast, got %d", r.Count())
	}
}

func TestConcurrentSendAndUnregister(t *testing.T) {
	r := NewConnectionRegistry()

	conns := make([]*Connection, 0, 8)
	for i := 0; i < 8; i++ {
		c, _ := newTestConn(t, "heidi")
		r.Register(c)
		conns = append(conns, c)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Send("heidi", []byte("frame"))
			}
		}()
	}
	for _, c := range conns[:4] {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			r.Unregister(c)
		}(c)
	}
	wg.Wait()

	if got := len(r.UserConnections("heidi")); got != 4 {
		t.Fatalf("expected 4 connections left, got %d", got)
	}
}
