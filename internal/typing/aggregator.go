// Package typing maintains the short-lived "currently typing" set for each
// chat. Entries live for three seconds unless refreshed; every mutation is
// fanned out to the chat's participants as a typing frame carrying the full
// set in insertion order.
package typing

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/loqui/messenger/internal/metrics"
	"github.com/loqui/messenger/internal/protocol"
)

// TTL is how long a typing entry lives without a refreshing frame.
const TTL = 3 * time.Second

// Sender delivers a frame to all of a user's live connections. Implemented
// by ws.ConnectionRegistry.
type Sender interface {
	Send(userID string, frame []byte) bool
}

// ParticipantsFunc resolves the participant list of a chat. Implemented by
// the storage collaborator.
type ParticipantsFunc func(ctx context.Context, chatID string) ([]string, error)

// entry is one user's typing state in one chat.
type entry struct {
	userID    string
	expiresAt time.Time
	gen       uint64 // bumped on every refresh so stale expiry timers no-op
}

// chatState holds a chat's typing entries plus a send mutex that serializes
// outbound notifications for the chat, so a later refresh can never be
// overtaken by a delayed earlier expiry notification.
type chatState struct {
	sendMu  sync.Mutex
	entries []*entry // insertion order
}

// Aggregator tracks typing entries across chats. Safe for concurrent use.
type Aggregator struct {
	mu           sync.Mutex
	chats        map[string]*chatState
	ttl          time.Duration
	gen          uint64
	sender       Sender
	participants ParticipantsFunc
}

// NewAggregator creates an aggregator with the standard 3-second TTL.
func NewAggregator(sender Sender, participants ParticipantsFunc) *Aggregator {
	return NewAggregatorTTL(sender, participants, TTL)
}

// NewAggregatorTTL creates an aggregator with a custom TTL. Used by tests.
func NewAggregatorTTL(sender Sender, participants ParticipantsFunc, ttl time.Duration) *Aggregator {
	return &Aggregator{
		chats:        make(map[string]*chatState),
		ttl:          ttl,
		sender:       sender,
		participants: participants,
	}
}

// StartTyping upserts the (chatID, userID) typing entry with a fresh expiry,
// notifies the chat's participants of the updated set immediately, and
// schedules the expiry check. Re-typing refreshes the existing entry; it
// never duplicates it.
func (a *Aggregator) StartTyping(ctx context.Context, chatID, userID string) {
	a.mu.Lock()
	cs, ok := a.chats[chatID]
	if !ok {
		cs = &chatState{}
		a.chats[chatID] = cs
	}
	a.gen++
	gen := a.gen

	found := false
	for _, e := range cs.entries {
		if e.userID == userID {
			e.expiresAt = time.Now().Add(a.ttl)
			e.gen = gen
			found = true
			break
		}
	}
	if !found {
		cs.entries = append(cs.entries, &entry{
			userID:    userID,
			expiresAt: time.Now().Add(a.ttl),
			gen:       gen,
		})
	}
	a.mu.Unlock()

	a.notify(ctx, chatID, cs)

	time.AfterFunc(a.ttl, func() {
		a.expire(chatID, userID, gen)
	})
}

// expire removes the (chatID, userID) entry if no refreshing StartTyping
// arrived since the timer was set, then notifies participants of the updated
// (possibly empty) set.
func (a *Aggregator) expire(chatID, userID string, gen uint64) {
	a.mu.Lock()
	cs, ok := a.chats[chatID]
	if !ok {
		a.mu.Unlock()
		return
	}

	removed := false
	for i, e := range cs.entries {
		if e.userID == userID {
			if e.gen != gen {
				// Refreshed after this timer was armed; the newer timer
				// owns the entry now.
				a.mu.Unlock()
				return
			}
			cs.entries = append(cs.entries[:i], cs.entries[i+1:]...)
			removed = true
			break
		}
	}
	if len(cs.entries) == 0 {
		delete(a.chats, chatID)
	}
	a.mu.Unlock()

	if removed {
		a.notify(context.Background(), chatID, cs)
	}
}

// Typers returns the chat's current typing set in insertion order. Entries
// past their expiry are treated as absent even if the timer has not swept
// them yet.
func (a *Aggregator) Typers(chatID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	cs, ok := a.chats[chatID]
	if !ok {
		return nil
	}
	now := time.Now()
	users := make([]string, 0, len(cs.entries))
	for _, e := range cs.entries {
		if e.expiresAt.After(now) {
			users = append(users, e.userID)
		}
	}
	return users
}

// notify sends the chat's current typing set to every participant. The
// chat's send mutex serializes notifications so they arrive in the order the
// mutations happened.
func (a *Aggregator) notify(ctx context.Context, chatID string, cs *chatState) {
	cs.sendMu.Lock()
	defer cs.sendMu.Unlock()

	users := a.Typers(chatID)
	if users == nil {
		users = []string{}
	}

	frame, err := protocol.NewServerFrame(protocol.TypeTyping, protocol.TypingUpdateFrame{
		ChatID:  chatID,
		UserIDs: users,
	})
	if err != nil {
		log.Printf("[typing] build frame chat=%s: %v", chatID, err)
		return
	}

	participants, err := a.participants(ctx, chatID)
	if err != nil {
		log.Printf("[typing] participants chat=%s: %v", chatID, err)
		return
	}

	for _, p := range participants {
		a.sender.Send(p, frame)
	}
	metrics.TypingEventsTotal.Inc()
}
