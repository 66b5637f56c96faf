package ws

import (
	"log"

	"github.com/loqui/messenger/internal/protocol"
)

// FrameHandler is the callback signature for handling a parsed client frame.
// The msg parameter is the concrete struct returned by
// protocol.ParseClientFrame (e.g., protocol.OfferFrame, protocol.TypingFrame).
type FrameHandler func(conn *Connection, msg interface{})

// FrameRouter routes incoming WebSocket frames to registered handlers based
// on the frame type. It handles the built-in ping/pong keepalive internally
// and sends structured error responses for malformed or unsupported frames.
type FrameRouter struct {
	handlers map[string]FrameHandler
}

// NewFrameRouter creates an empty FrameRouter.
func NewFrameRouter() *FrameRouter {
	return &FrameRouter{
		handlers: make(map[string]FrameHandler),
	}
}

// Register associates a FrameHandler with a frame type. If a handler was
// already registered for the given type, it is silently replaced.
func (fr *FrameRouter) Register(frameType string, handler FrameHandler) {
	fr.handlers[frameType] = handler
}

// Route is the onMessage callback implementation. It parses the raw bytes
// into a typed frame, handles ping internally, and routes all other types to
// the registered handler. Parse errors and unregistered types result in an
// error frame sent back to the client.
func (fr *FrameRouter) Route(conn *Connection, data []byte) {
	frameType, msg, err := protocol.ParseClientFrame(data)
	if err != nil {
		log.Printf("ws: route parse error user=%s conn=%s: %v", conn.UserID, conn.ID, err)
		fr.sendError(conn, "parse_error", "invalid frame format")
		return
	}

	// Built-in ping handler — respond immediately without requiring registration.
	if frameType == protocol.TypePing {
		fr.sendPong(conn)
		return
	}

	handler, ok := fr.handlers[frameType]
	if !ok {
		log.Printf("ws: unsupported frame type=%q user=%s", frameType, conn.UserID)
		fr.sendError(conn, "unsupported_type", "unsupported frame type")
		return
	}

	handler(conn, msg)
}

// sendError sends a structured error frame back to the client. Errors during
// frame construction or transmission are logged but not propagated.
func (fr *FrameRouter) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerFrame(protocol.TypeError, protocol.ErrorFrame{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error frame conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error frame conn=%s: %v", conn.ID, err)
	}
}

// sendPong responds to a client ping with a pong frame and records the
// keepalive as connection activity.
func (fr *FrameRouter) sendPong(conn *Connection) {
	conn.Touch()

	data, err := protocol.NewServerFrame(protocol.TypePong, protocol.PongFrame{})
	if err != nil {
		log.Printf("ws: failed to build pong frame conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send pong frame conn=%s: %v", conn.ID, err)
	}
}
