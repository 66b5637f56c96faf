package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/loqui/messenger/internal/protocol"
	"github.com/loqui/messenger/internal/push"
)

type fakeSender struct {
	mu     sync.Mutex
	online map[string]bool
	sends  map[string][]protocol.NewMessageFrame
}

func newFakeSender(online ...string) *fakeSender {
	s := &fakeSender{
		online: make(map[string]bool),
		sends:  make(map[string][]protocol.NewMessageFrame),
	}
	for _, u := range online {
		s.online[u] = true
	}
	return s
}

func (s *fakeSender) Send(userID string, frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online[userID] {
		return false
	}
	var decoded protocol.NewMessageFrame
	if err := json.Unmarshal(frame, &decoded); err != nil {
		return false
	}
	s.sends[userID] = append(s.sends[userID], decoded)
	return true
}

type fakeDevices struct {
	tokens map[string][]string
}

func (d *fakeDevices) Tokens(ctx context.Context, userID string) ([]string, error) {
	return d.tokens[userID], nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []push.Job
}

func (q *fakeQueue) Enqueue(job push.Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
}

func (q *fakeQueue) all() []push.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]push.Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

func testMessage() Message {
	return Message{
		ID:       "m1",
		ChatID:   "chat1",
		SenderID: "alice",
		Body:     "hello",
		Preview:  "hello",
		Seq:      7,
		SentAt:   1700000000,
	}
}

func TestDispatchSkipsSender(t *testing.T) {
	sender := newFakeSender("alice", "bob")
	queue := &fakeQueue{}
	d := NewDispatcher(sender, &fakeDevices{}, queue)

	d.Dispatch(context.Background(), testMessage(), []string{"alice", "bob"})

	if len(sender.sends["alice"]) != 0 {
		t.Fatalf("sender must not receive own message, got %v", sender.sends["alice"])
	}
	if len(sender.sends["bob"]) != 1 {
		t.Fatalf("expected 1 frame for bob, got %d", len(sender.sends["bob"]))
	}
	got := sender.sends["bob"][0]
	if got.MessageID != "m1" || got.Seq != 7 || got.Body != "hello" {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestDispatchFallsBackToPush(t *testing.T) {
	sender := newFakeSender() // nobody online
	devices := &fakeDevices{tokens: map[string][]string{
		"bob": {"fcm:phone", "fcm:tablet"},
	}}
	queue := &fakeQueue{}
	d := NewDispatcher(sender, devices, queue)

	d.Dispatch(context.Background(), testMessage(), []string{"alice", "bob"})

	jobs := queue.all()
	if len(jobs) != 2 {
		t.Fatalf("expected one job per device, got %d", len(jobs))
	}
	for _, job := range jobs {
		if job.Kind != push.KindMessage {
			t.Fatalf("expected message job, got %s", job.Kind)
		}
		if job.Payload["chat_id"] != "chat1" || job.Payload["preview"] != "hello" {
			t.Fatalf("unexpected payload: %v", job.Payload)
		}
		if job.Payload["body"] != "" {
			t.Fatal("push payload must not carry full message body")
		}
	}
}

func TestDispatchUnreachableEnqueuesNothing(t *testing.T) {
	sender := newFakeSender()
	queue := &fakeQueue{}
	d := NewDispatcher(sender, &fakeDevices{}, queue)

	d.Dispatch(context.Background(), testMessage(), []string{"alice", "bob"})

	if len(queue.all()) != 0 {
		t.Fatalf("expected no push jobs, got %v", queue.all())
	}
}

func TestDispatchMixedRecipients(t *testing.T) {
	sender := newFakeSender("bob")
	devices := &fakeDevices{tokens: map[string][]string{
		"carol": {"apns:1"},
	}}
	queue := &fakeQueue{}
	d := NewDispatcher(sender, devices, queue)

	d.Dispatch(context.Background(), testMessage(), []string{"alice", "bob", "carol", "dave"})

	if len(sender.sends["bob"]) != 1 {
		t.Fatalf("expected live delivery to bob, got %d", len(sender.sends["bob"]))
	}
	jobs := queue.all()
	if len(jobs) != 1 || jobs[0].Address != "apns:1" {
		t.Fatalf("expected single push job for carol, got %v", jobs)
	}
}

func TestDispatchReactionLiveOnly(t *testing.T) {
	sender := newFakeSender()
	devices := &fakeDevices{tokens: map[string][]string{
		"bob": {"fcm:phone"},
	}}
	queue := &fakeQueue{}
	d := NewDispatcher(sender, devices, queue)

	d.DispatchReaction(context.Background(), Reaction{
		MessageID: "m1",
		ChatID:    "chat1",
		UserID:    "alice",
		Emoji:     "🔥",
	}, []string{"alice", "bob"})

	if len(queue.all()) != 0 {
		t.Fatalf("reactions must never enqueue push jobs, got %v", queue.all())
	}
}

func TestDispatchSystemReachesEveryParticipant(t *testing.T) {
	sender := newFakeSender("alice", "bob")
	queue := &fakeQueue{}
	d := NewDispatcher(sender, &fakeDevices{}, queue)

	d.DispatchSystem(context.Background(), "chat1", []string{"alice", "bob"}, "Call ended 1:05")

	for _, u := range []string{"alice", "bob"} {
		frames := sender.sends[u]
		if len(frames) != 1 {
			t.Fatalf("expected system message for %s, got %d frames", u, len(frames))
		}
		if frames[0].SenderID != SystemSender {
			t.Fatalf("expected system sender, got %s", frames[0].SenderID)
		}
		if frames[0].Body != "Call ended 1:05" {
			t.Fatalf("unexpected body: %s", frames[0].Body)
		}
	}
}
