package call

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/metrics"
	"github.com/loqui/messenger/internal/protocol"
	"github.com/loqui/messenger/internal/push"
)

// ErrUserUnreachable is returned by Initiate when the callee has no live
// connection and no registered device.
var ErrUserUnreachable = errors.New("call: user unreachable")

// ErrCallActive is returned by Initiate when the client-supplied call id
// already names an in-flight session. Exactly one session exists per call id;
// a duplicate must never replace it.
var ErrCallActive = errors.New("call: call id already active")

// Sender delivers a frame to all of a user's live connections.
type Sender interface {
	Send(userID string, frame []byte) bool
}

// DeviceTokens resolves a user's registered push addresses.
type DeviceTokens interface {
	Tokens(ctx context.Context, userID string) ([]string, error)
}

// HistoryRecorder persists terminal call records.
type HistoryRecorder interface {
	RecordCall(ctx context.Context, rec Record) error
}

// SystemPoster posts a system message into a chat.
type SystemPoster interface {
	DispatchSystem(ctx context.Context, chatID string, participants []string, text string)
}

// Engine owns all in-flight call sessions on this node and drives their
// lifecycle. history and poster may be nil; terminal transitions then skip
// persistence and chat summaries but still notify both parties.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*Session

	sender  Sender
	devices DeviceTokens
	queue   push.Queue
	history HistoryRecorder
	poster  SystemPoster
}

// NewEngine creates a call engine over the given collaborators.
func NewEngine(sender Sender, devices DeviceTokens, queue push.Queue, history HistoryRecorder, poster SystemPoster) *Engine {
	return &Engine{
		sessions: make(map[string]*Session),
		sender:   sender,
		devices:  devices,
		queue:    queue,
		history:  history,
		poster:   poster,
	}
}

// Initiate starts ringing calleeID on behalf of callerID. The callee is tried
// over live connections first; with no connection, one call push job per
// registered device wakes the callee's apps, and the session stays ringing so
// a woken app can still connect and accept. With neither, no session is
// created and ErrUserUnreachable is returned for the caller's immediate
// feedback. A callID that already names an in-flight session is rejected with
// ErrCallActive; the existing session is untouched. The Ringing session is
// inserted before the invite goes out so an immediate Accept always finds it.
func (e *Engine) Initiate(ctx context.Context, callID, chatID, callerID, calleeID string, isVideo bool, sdp string) (*Session, error) {
	if callID == "" {
		callID = uuid.New().String()
	}

	s := &Session{
		CallID:    callID,
		ChatID:    chatID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		IsVideo:   isVideo,
		Status:    StatusRinging,
		StartedAt: time.Now(),
	}

	frame, err := protocol.NewServerFrame(protocol.TypeIncomingCall, protocol.IncomingCallFrame{
		CallID:   callID,
		ChatID:   chatID,
		CallerID: callerID,
		IsVideo:  isVideo,
		SDP:      sdp,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, exists := e.sessions[callID]; exists {
		e.mu.Unlock()
		return nil, ErrCallActive
	}
	e.sessions[callID] = s
	e.mu.Unlock()
	metrics.ActiveCalls.Inc()

	delivered := e.sender.Send(calleeID, frame)
	if !delivered {
		tokens, err := e.devices.Tokens(ctx, calleeID)
		if err != nil || len(tokens) == 0 {
			if err != nil {
				log.Printf("[call] tokens callee=%s call=%s: %v", calleeID, callID, err)
			}
			e.abort(callID)
			return nil, ErrUserUnreachable
		}
		for _, token := range tokens {
			e.queue.Enqueue(push.NewJob(push.KindCall, token, map[string]string{
				"call_id":   callID,
				"chat_id":   chatID,
				"caller_id": callerID,
				"is_video":  boolString(isVideo),
			}))
		}
	}

	return s, nil
}

// abort removes a session that never actually rang anyone. No notification,
// no history.
func (e *Engine) abort(callID string) {
	e.mu.Lock()
	_, ok := e.sessions[callID]
	delete(e.sessions, callID)
	e.mu.Unlock()
	if ok {
		metrics.ActiveCalls.Dec()
	}
}

// Accept moves a ringing call to accepted and relays the callee's answer to
// the caller. Accepting a call that is not ringing (already accepted,
// rejected, or unknown) is a no-op; the first terminal transition wins.
func (e *Engine) Accept(callID, userID, sdp string) {
	e.mu.Lock()
	s, ok := e.sessions[callID]
	if !ok || s.Status != StatusRinging || userID != s.CalleeID {
		e.mu.Unlock()
		return
	}
	s.Status = StatusAccepted
	s.AnsweredAt = time.Now()
	caller := s.CallerID
	e.mu.Unlock()

	frame, err := protocol.NewServerFrame(protocol.TypeCallAccepted, protocol.CallAcceptedFrame{
		CallID: callID,
		SDP:    sdp,
	})
	if err != nil {
		log.Printf("[call] build accepted frame call=%s: %v", callID, err)
		return
	}
	// Best effort: if the caller vanished, hangup follows through the
	// offline hook.
	e.sender.Send(caller, frame)
}

// Reject declines a ringing call. Only the callee may reject, and only while
// ringing; anything else is a no-op.
func (e *Engine) Reject(ctx context.Context, callID, userID string) {
	e.mu.Lock()
	s, ok := e.sessions[callID]
	if !ok || s.Status != StatusRinging || userID != s.CalleeID {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, callID)
	e.mu.Unlock()

	frame, err := protocol.NewServerFrame(protocol.TypeCallRejected, protocol.CallRejectedFrame{CallID: callID})
	if err != nil {
		log.Printf("[call] build rejected frame call=%s: %v", callID, err)
	} else {
		e.sender.Send(s.CallerID, frame)
	}

	e.conclude(ctx, s, FinalDeclined, 0)
}

// End hangs up a ringing or accepted call on behalf of either party. A
// ringing call ended by the caller is a cancel and records a missed call; an
// accepted call records its talk time. Concurrent End calls for the same
// session resolve to exactly one terminal transition.
func (e *Engine) End(ctx context.Context, callID, userID string) {
	e.mu.Lock()
	s, ok := e.sessions[callID]
	if !ok || !s.Involves(userID) {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, callID)
	duration := s.Duration()
	wasAccepted := s.Status == StatusAccepted
	e.mu.Unlock()

	e.notifyEnded(s, duration)

	if wasAccepted {
		e.conclude(ctx, s, FinalEnded, duration)
	} else {
		e.conclude(ctx, s, FinalMissed, 0)
	}
}

// EndAllForUser hangs up every call involving userID. Wired to the registry's
// offline hook so a user's full disconnect tears down their calls.
func (e *Engine) EndAllForUser(userID string) {
	e.mu.Lock()
	var involved []*Session
	for id, s := range e.sessions {
		if s.Involves(userID) {
			delete(e.sessions, id)
			involved = append(involved, s)
		}
	}
	e.mu.Unlock()

	ctx := context.Background()
	for _, s := range involved {
		duration := s.Duration()
		e.notifyEnded(s, duration)
		if s.Status == StatusAccepted {
			e.conclude(ctx, s, FinalEnded, duration)
		} else {
			e.conclude(ctx, s, FinalMissed, 0)
		}
	}
}

// RelayICE forwards an ICE candidate from one party to the other. Candidates
// for unknown calls or from outsiders are dropped.
func (e *Engine) RelayICE(callID, fromID, candidate string) {
	e.mu.Lock()
	s, ok := e.sessions[callID]
	if !ok {
		e.mu.Unlock()
		return
	}
	target := s.OtherParty(fromID)
	e.mu.Unlock()
	if target == "" {
		return
	}

	frame, err := protocol.NewServerFrame(protocol.TypeIceCandidate, protocol.IceCandidateRelayFrame{
		CallID:    callID,
		FromID:    fromID,
		Candidate: candidate,
	})
	if err != nil {
		log.Printf("[call] build ice frame call=%s: %v", callID, err)
		return
	}
	e.sender.Send(target, frame)
}

// Finalize settles a call from an external report (a media-room webhook or a
// client reconnecting after the fact). reportedStatus "declined" takes
// precedence; otherwise a still-ringing call with zero reported duration is a
// missed call, and anything else ended with the reported duration. Finalizing
// a call with no live session is a no-op: the session's own terminal
// transition already recorded it.
func (e *Engine) Finalize(ctx context.Context, callID string, reportedDuration int64, reportedStatus string) {
	e.mu.Lock()
	s, ok := e.sessions[callID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, callID)
	e.mu.Unlock()

	var status string
	var duration int64
	switch {
	case reportedStatus == FinalDeclined:
		status = FinalDeclined
	case s.Status == StatusRinging && reportedDuration == 0:
		status = FinalMissed
	default:
		status = FinalEnded
		duration = reportedDuration
		if duration == 0 {
			duration = s.Duration()
		}
	}

	e.notifyEnded(s, duration)
	e.conclude(ctx, s, status, duration)
}

// Active returns the session for callID, or nil if no such call is in flight.
func (e *Engine) Active(callID string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[callID]
	if !ok {
		return nil
	}
	copied := *s
	return &copied
}

// notifyEnded sends call_ended to both parties. Deliveries are best effort;
// a party that already disconnected learns the outcome from call history.
func (e *Engine) notifyEnded(s *Session, duration int64) {
	frame, err := protocol.NewServerFrame(protocol.TypeCallEnded, protocol.CallEndedFrame{
		CallID:   s.CallID,
		Duration: duration,
	})
	if err != nil {
		log.Printf("[call] build ended frame call=%s: %v", s.CallID, err)
		return
	}
	e.sender.Send(s.CallerID, frame)
	e.sender.Send(s.CalleeID, frame)
}

// conclude records the terminal outcome: metrics, call history, and the chat
// system message.
func (e *Engine) conclude(ctx context.Context, s *Session, status string, duration int64) {
	metrics.ActiveCalls.Dec()
	metrics.CallsTotal.WithLabelValues(status).Inc()
	if status == FinalEnded {
		metrics.CallDuration.Observe(float64(duration))
	}

	if e.history != nil {
		rec := Record{
			CallID:    s.CallID,
			ChatID:    s.ChatID,
			CallerID:  s.CallerID,
			CalleeID:  s.CalleeID,
			IsVideo:   s.IsVideo,
			Status:    status,
			StartedAt: s.StartedAt,
			Duration:  duration,
		}
		if err := e.history.RecordCall(ctx, rec); err != nil {
			log.Printf("[call] record call=%s status=%s: %v", s.CallID, status, err)
		}
	}

	if e.poster != nil {
		e.poster.DispatchSystem(ctx, s.ChatID, []string{s.CallerID, s.CalleeID}, summaryText(status, duration))
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
