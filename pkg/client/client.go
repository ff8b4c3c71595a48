// Package client is a Go client for the canvas collaboration websocket. It
// keeps a local view of the shared scene and the room's collaborators,
// reconnects with bounded retries, and dedupes outgoing scene pushes so
// unchanged state never hits the wire.
package client

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"canvas-backend/internal/collab"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// SaveStatus reflects whether the last pushed edits have been persisted
// server-side, as observed through saved acknowledgements.
type SaveStatus string

const (
	SaveStatusSaved   SaveStatus = "saved"
	SaveStatusSaving  SaveStatus = "saving"
	SaveStatusUnsaved SaveStatus = "unsaved"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client closed")

// Surface receives the remote side of the collaboration: merged scenes,
// membership changes and awareness updates. All callbacks run on the client's
// read goroutine; implementations must not block.
type Surface interface {
	UpdateScene(elements []json.RawMessage, appState json.RawMessage)
	UpdateCollaborators(users []collab.Collaborator)
	UpdateAwareness(userID string, cursor *collab.Position, selectedElementIDs []string)
	StatusChanged(status Status)
	SaveStatusChanged(status SaveStatus)
}

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/ws/canvas.
	URL      string
	CanvasID string
	Token    string
	Surface  Surface

	// ReconnectAttempts bounds automatic reconnection after a dropped
	// connection (default 5). ReconnectDelay is the base delay between
	// attempts (default 1s), grown linearly per attempt.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Client is a single-canvas collaboration connection. Local edits made while
// disconnected are not queued; push them again after the connection reports
// connected.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	status       Status
	saveStatus   SaveStatus
	lastPushHash [sha256.Size]byte
	hasPushed    bool
	attempts     int // consecutive reconnects without an established session
	closed       bool
	done         chan struct{}
}

// New creates a client; call Connect to establish the session.
func New(opts Options) (*Client, error) {
	if opts.URL == "" || opts.CanvasID == "" {
		return nil, errors.New("client: URL and CanvasID are required")
	}
	if opts.Surface == nil {
		return nil, errors.New("client: Surface is required")
	}
	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = time.Second
	}
	return &Client{
		opts:       opts,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		status:     StatusDisconnected,
		saveStatus: SaveStatusSaved,
		done:       make(chan struct{}),
	}, nil
}

// Connect dials the server, joins the canvas room and starts the read loop.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.setStatus(StatusConnecting)
	if err := c.dialAndJoin(); err != nil {
		c.setStatus(StatusError)
		return err
	}
	c.setStatus(StatusConnected)

	go c.readLoop()
	return nil
}

// PushScene sends the local element list to the server. Pushes whose content
// hash matches the previous push are dropped, so callers can invoke this on
// every local mutation without flooding the wire.
func (c *Client) PushScene(elements []json.RawMessage, appState json.RawMessage) error {
	payload, err := json.Marshal(collab.Envelope{
		Type:     collab.MessageSync,
		CanvasID: c.opts.CanvasID,
		Elements: elements,
		AppState: appState,
	})
	if err != nil {
		return fmt.Errorf("encode sync: %w", err)
	}
	hash := sha256.Sum256(payload)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.hasPushed && hash == c.lastPushHash {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	// The hash is recorded only once the frame is on the wire; a failed push
	// stays retryable with identical content.
	if conn == nil {
		return errors.New("client: not connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("push scene: %w", err)
	}

	c.mu.Lock()
	c.lastPushHash = hash
	c.hasPushed = true
	c.mu.Unlock()
	c.setSaveStatus(SaveStatusUnsaved)
	return nil
}

// PushPointer sends a cursor/selection update. Fire-and-forget: failures are
// ignored because the next movement supersedes this one anyway.
func (c *Client) PushPointer(cursor *collab.Position, selectedElementIDs []string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteJSON(collab.Envelope{
		Type:               collab.MessageAwareness,
		CanvasID:           c.opts.CanvasID,
		Cursor:             cursor,
		SelectedElementIDs: selectedElementIDs,
	})
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SaveStatus returns the current persistence status.
func (c *Client) SaveStatus() SaveStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveStatus
}

// Close sends a leave message and shuts the connection down. No reconnection
// happens after Close.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteJSON(collab.Envelope{
			Type:     collab.MessageLeave,
			CanvasID: c.opts.CanvasID,
		})
		_ = conn.Close()
	}
	c.setStatus(StatusDisconnected)
	return nil
}

func (c *Client) dialAndJoin() error {
	conn, _, err := c.dialer.Dial(c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	join := collab.Envelope{
		Type:     collab.MessageJoin,
		CanvasID: c.opts.CanvasID,
		Token:    c.opts.Token,
	}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return fmt.Errorf("join: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// serverMessage is the superset of every payload the server sends; Type
// selects which fields are meaningful.
type serverMessage struct {
	Type               string                `json:"type"`
	CanvasID           string                `json:"canvasId"`
	UserID             string                `json:"userId"`
	Elements           []json.RawMessage     `json:"elements"`
	AppState           json.RawMessage       `json:"appState"`
	Users              []collab.Collaborator `json:"users"`
	Cursor             *collab.Position      `json:"cursor"`
	SelectedElementIDs []string              `json:"selectedElementIds"`
	Code               string                `json:"code"`
	Message            string                `json:"message"`
	Retryable          bool                  `json:"retryable"`
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if c.isClosed() {
				return
			}
			log.Printf("[Client] connection lost: %v", err)
			c.reconnect()
			return
		}

		switch msg.Type {
		case collab.MessageLoaded:
			// Session established; reconnection starts fresh from here, and
			// the push dedupe is cleared because the server just re-seeded
			// its state from storage.
			c.mu.Lock()
			c.attempts = 0
			c.hasPushed = false
			c.mu.Unlock()
			c.opts.Surface.UpdateScene(msg.Elements, msg.AppState)
			c.opts.Surface.UpdateCollaborators(msg.Users)
		case collab.MessageSync:
			c.opts.Surface.UpdateScene(msg.Elements, msg.AppState)
		case collab.MessageUsers:
			c.opts.Surface.UpdateCollaborators(msg.Users)
		case collab.MessageAwareness:
			c.opts.Surface.UpdateAwareness(msg.UserID, msg.Cursor, msg.SelectedElementIDs)
		case collab.MessageSaved:
			c.setSaveStatus(SaveStatusSaved)
		case collab.MessageError:
			log.Printf("[Client] server error %s: %s", msg.Code, msg.Message)
			if !msg.Retryable {
				c.mu.Lock()
				if c.conn != nil {
					c.conn.Close()
					c.conn = nil
				}
				c.mu.Unlock()
				c.setStatus(StatusError)
				return
			}
			c.reconnect()
			return
		}
	}
}

// reconnect retries the dial-and-join sequence with a linearly growing delay.
// The attempt counter persists across drops until a session is established
// (loaded received), so a flapping server cannot keep the client retrying
// forever. Gives up (status error) after the configured number of attempts.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.setStatus(StatusConnecting)
	for {
		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()
		if attempt > c.opts.ReconnectAttempts {
			c.setStatus(StatusError)
			return
		}

		select {
		case <-c.done:
			return
		case <-time.After(time.Duration(attempt) * c.opts.ReconnectDelay):
		}
		if c.isClosed() {
			return
		}

		if err := c.dialAndJoin(); err != nil {
			log.Printf("[Client] reconnect attempt %d/%d failed: %v", attempt, c.opts.ReconnectAttempts, err)
			continue
		}
		c.setStatus(StatusConnected)
		go c.readLoop()
		return
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setStatus(status Status) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()
	c.opts.Surface.StatusChanged(status)
}

func (c *Client) setSaveStatus(status SaveStatus) {
	c.mu.Lock()
	if c.saveStatus == status {
		c.mu.Unlock()
		return
	}
	c.saveStatus = status
	c.mu.Unlock()
	c.opts.Surface.SaveStatusChanged(status)
}
