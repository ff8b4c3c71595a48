package collab

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the transport-side surface a session writes to. Satisfied by
// *websocket.Conn from gofiber/contrib/websocket (and by gorilla's Conn);
// tests substitute an in-memory fake.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Position is a cursor location on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Collaborator is the presence record broadcast to room members: who is
// here, their assigned color and their last known cursor. Derived state,
// never persisted.
type Collaborator struct {
	UserID string    `json:"userId"`
	Name   string    `json:"name"`
	Avatar string    `json:"avatar,omitempty"`
	Color  string    `json:"color"`
	Cursor *Position `json:"cursor,omitempty"`
}

// Session is the per-connection handle: one per websocket, owned by the
// connection that created it and torn down on disconnect. A session belongs
// to at most one room at a time.
type Session struct {
	ID string

	writeTimeout time.Duration

	mu       sync.Mutex
	conn     Conn
	userID   string
	name     string
	avatar   string
	color    string
	canvasID string
	cursor   *Position
}

// NewSession wraps a connection in a fresh, unauthenticated session. A
// positive writeTimeout bounds every outbound write so a stalled peer cannot
// block broadcasts to the rest of the room.
func NewSession(conn Conn, writeTimeout time.Duration) *Session {
	return &Session{
		ID:           uuid.NewString(),
		writeTimeout: writeTimeout,
		conn:         conn,
	}
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Send serializes writes so concurrent broadcasts never interleave frames.
func (s *Session) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteJSON(v)
}

func (s *Session) setIdentity(userID, name, avatar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.name = name
	s.avatar = avatar
}

// UserID returns the authenticated user id (empty before join).
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) setRoom(canvasID, color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canvasID = canvasID
	s.color = color
	s.cursor = nil
}

func (s *Session) clearRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	canvasID := s.canvasID
	s.canvasID = ""
	s.cursor = nil
	return canvasID
}

// CanvasID returns the room the session is currently joined to, if any.
func (s *Session) CanvasID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvasID
}

func (s *Session) setCursor(p *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = p
}

// Collaborator returns the session's current presence record.
func (s *Session) Collaborator() Collaborator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Collaborator{
		UserID: s.userID,
		Name:   s.name,
		Avatar: s.avatar,
		Color:  s.color,
		Cursor: s.cursor,
	}
}
