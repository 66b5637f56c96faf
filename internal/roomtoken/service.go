// Package roomtoken issues the short-lived credentials the realtime core
// hands to clients: media-room join tokens for managed calls, and connection
// tickets that authenticate the WebSocket upgrade. Both are HMAC-signed JWTs
// over a shared secret; the media server and this server verify them
// independently, so no callback round-trip is needed.
package roomtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetimes. A room token outlives the join handshake, not the call;
// the media server keeps admitted participants past expiry.
const (
	DefaultRoomTTL   = 10 * time.Minute
	DefaultTicketTTL = 24 * time.Hour
)

// ErrInvalidTicket is returned for expired, malformed, or badly signed
// connection tickets.
var ErrInvalidTicket = errors.New("roomtoken: invalid ticket")

// RoomClaims is the payload of a media-room join token.
type RoomClaims struct {
	Room         string `json:"room"`
	Identity     string `json:"identity"`
	CanPublish   bool   `json:"can_publish"`
	CanSubscribe bool   `json:"can_subscribe"`
	jwt.RegisteredClaims
}

// TicketClaims is the payload of a WebSocket connection ticket.
type TicketClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Service signs and verifies credentials with a shared HMAC secret.
type Service struct {
	secret    []byte
	issuer    string
	roomTTL   time.Duration
	ticketTTL time.Duration
}

// NewService creates a token service. The secret must match the media
// server's configured verification key.
func NewService(secret []byte, issuer string) *Service {
	return &Service{
		secret:    secret,
		issuer:    issuer,
		roomTTL:   DefaultRoomTTL,
		ticketTTL: DefaultTicketTTL,
	}
}

// Issue creates a join token for identity in room with the given grants.
func (s *Service) Issue(room, identity string, canPublish, canSubscribe bool) (string, error) {
	if room == "" || identity == "" {
		return "", fmt.Errorf("roomtoken: room and identity are required")
	}

	now := time.Now()
	claims := RoomClaims{
		Room:         room,
		Identity:     identity,
		CanPublish:   canPublish,
		CanSubscribe: canSubscribe,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.roomTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("roomtoken: sign room token: %w", err)
	}
	return signed, nil
}

// IssueTicket creates a connection ticket for userID. The CRUD layer calls
// this after its own session check and hands the ticket to the client for the
// WebSocket upgrade.
func (s *Service) IssueTicket(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("roomtoken: user id is required")
	}

	now := time.Now()
	claims := TicketClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ticketTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("roomtoken: sign ticket: %w", err)
	}
	return signed, nil
}

// VerifyTicket validates a connection ticket and returns the user id it was
// issued to.
func (s *Service) VerifyTicket(ticket string) (string, error) {
	var claims TicketClaims
	token, err := jwt.ParseWithClaims(ticket, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("roomtoken: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidTicket
	}
	if claims.UserID == "" {
		return "", ErrInvalidTicket
	}
	return claims.UserID, nil
}
