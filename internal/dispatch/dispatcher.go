// Package dispatch fans persisted chat events out to their recipients. Each
// participant is tried over their live connections first; participants with
// no live connection fall back to one push job per registered device, and
// participants with neither are counted as unreachable. Reactions are
// live-only and never generate push traffic.
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/metrics"
	"github.com/loqui/messenger/internal/protocol"
	"github.com/loqui/messenger/internal/push"
)

// SystemSender is the sender id carried by system messages such as call
// summaries.
const SystemSender = "system"

// Sender delivers a frame to all of a user's live connections, reporting
// whether at least one delivery succeeded.
type Sender interface {
	Send(userID string, frame []byte) bool
}

// DeviceTokens resolves a user's registered push addresses.
type DeviceTokens interface {
	Tokens(ctx context.Context, userID string) ([]string, error)
}

// Message is a persisted chat message as published by the CRUD layer.
type Message struct {
	ID       string `json:"id"`
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`
	Body     string `json:"body"`
	Preview  string `json:"preview"` // plaintext-safe snippet for push payloads
	Seq      int64  `json:"seq"`
	SentAt   int64  `json:"sent_at"`
}

// Reaction is a reaction mutation as published by the CRUD layer.
type Reaction struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	Removed   bool   `json:"removed"`
}

// Dispatcher routes chat events to participants, choosing live delivery or
// push fallback per participant.
type Dispatcher struct {
	sender  Sender
	devices DeviceTokens
	queue   push.Queue
}

// NewDispatcher creates a dispatcher over the given delivery collaborators.
func NewDispatcher(sender Sender, devices DeviceTokens, queue push.Queue) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		devices: devices,
		queue:   queue,
	}
}

// Dispatch delivers msg to every participant except the sender. Each
// participant is handled independently; one participant's failure never
// affects another's delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, participants []string) {
	frame, err := protocol.NewServerFrame(protocol.TypeNewMessage, protocol.NewMessageFrame{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		Seq:       msg.Seq,
		SentAt:    msg.SentAt,
	})
	if err != nil {
		log.Printf("[dispatch] build frame msg=%s: %v", msg.ID, err)
		return
	}

	for _, p := range participants {
		if p == msg.SenderID {
			continue
		}
		d.deliver(ctx, p, frame, msg)
	}
}

// deliver routes one message to one participant: live if any connection takes
// the frame, otherwise one push job per device token.
func (d *Dispatcher) deliver(ctx context.Context, userID string, frame []byte, msg Message) {
	if d.sender.Send(userID, frame) {
		metrics.DeliveriesTotal.WithLabelValues("live").Inc()
		return
	}

	tokens, err := d.devices.Tokens(ctx, userID)
	if err != nil {
		log.Printf("[dispatch] tokens user=%s msg=%s: %v", userID, msg.ID, err)
		metrics.DeliveriesTotal.WithLabelValues("unreachable").Inc()
		return
	}
	if len(tokens) == 0 {
		log.Printf("[dispatch] user=%s unreachable for msg=%s", userID, msg.ID)
		metrics.DeliveriesTotal.WithLabelValues("unreachable").Inc()
		return
	}

	for _, token := range tokens {
		d.queue.Enqueue(push.NewJob(push.KindMessage, token, map[string]string{
			"chat_id":    msg.ChatID,
			"message_id": msg.ID,
			"sender_id":  msg.SenderID,
			"preview":    msg.Preview,
		}))
	}
	metrics.DeliveriesTotal.WithLabelValues("push").Inc()
}

// DispatchReaction delivers a reaction update to every participant except its
// author. Reactions are live-only; offline participants pick them up from the
// CRUD layer on their next sync.
func (d *Dispatcher) DispatchReaction(ctx context.Context, r Reaction, participants []string) {
	frame, err := protocol.NewServerFrame(protocol.TypeReactionUpdate, protocol.ReactionUpdateFrame{
		MessageID: r.MessageID,
		ChatID:    r.ChatID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		Removed:   r.Removed,
	})
	if err != nil {
		log.Printf("[dispatch] build reaction frame msg=%s: %v", r.MessageID, err)
		return
	}

	for _, p := range participants {
		if p == r.UserID {
			continue
		}
		if d.sender.Send(p, frame) {
			metrics.DeliveriesTotal.WithLabelValues("live").Inc()
		}
	}
}

// DispatchSystem delivers a system message (e.g. a call summary) to every
// participant. System messages follow the normal live/push routing but carry
// the system sender id, so no participant is skipped.
func (d *Dispatcher) DispatchSystem(ctx context.Context, chatID string, participants []string, text string) {
	msg := Message{
		ID:       uuid.New().String(),
		ChatID:   chatID,
		SenderID: SystemSender,
		Body:     text,
		Preview:  text,
		SentAt:   time.Now().Unix(),
	}

	frame, err := protocol.NewServerFrame(protocol.TypeNewMessage, protocol.NewMessageFrame{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		SentAt:    msg.SentAt,
	})
	if err != nil {
		log.Printf("[dispatch] build system frame chat=%s: %v", chatID, err)
		return
	}

	for _, p := range participants {
		d.deliver(ctx, p, frame, msg)
	}
}
