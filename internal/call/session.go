// Package call implements one-to-one call signaling: ring delivery with push
// fallback, accept/reject/end transitions, ICE relay between the two parties,
// and finalization into a call history record plus a system message in the
// chat. All session state is in-memory on the node holding the signaling
// connections; a dropped node rings out client-side.
package call

import (
	"fmt"
	"time"
)

// Session statuses.
const (
	StatusRinging  = "ringing"
	StatusAccepted = "accepted"
)

// Final statuses recorded in call history.
const (
	FinalEnded    = "ended"
	FinalDeclined = "declined"
	FinalMissed   = "missed"
)

// Session is one in-flight call between two users.
type Session struct {
	CallID     string
	ChatID     string
	CallerID   string
	CalleeID   string
	IsVideo    bool
	Status     string
	StartedAt  time.Time
	AnsweredAt time.Time
}

// OtherParty returns the session participant that is not userID, or "" if
// userID is not part of the call.
func (s *Session) OtherParty(userID string) string {
	switch userID {
	case s.CallerID:
		return s.CalleeID
	case s.CalleeID:
		return s.CallerID
	}
	return ""
}

// Involves reports whether userID is one of the call's two parties.
func (s *Session) Involves(userID string) bool {
	return userID == s.CallerID || userID == s.CalleeID
}

// Duration returns the elapsed talk time in seconds, zero for calls that were
// never answered.
func (s *Session) Duration() int64 {
	if s.AnsweredAt.IsZero() {
		return 0
	}
	return int64(time.Since(s.AnsweredAt).Seconds())
}

// Record is the terminal outcome of a call, as written to call history.
type Record struct {
	CallID    string
	ChatID    string
	CallerID  string
	CalleeID  string
	IsVideo   bool
	Status    string // "ended", "declined", or "missed"
	StartedAt time.Time
	Duration  int64 // seconds, zero unless Status is "ended"
}

// formatDuration renders seconds as m:ss for system messages.
func formatDuration(secs int64) string {
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// summaryText is the system message posted into the chat for a finished call.
func summaryText(status string, duration int64) string {
	switch status {
	case FinalEnded:
		return "Call ended " + formatDuration(duration)
	case FinalDeclined:
		return "Call declined"
	default:
		return "Missed call"
	}
}
