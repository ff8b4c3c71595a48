package collab

import (
	"encoding/json"
)

// Message types exchanged over the canvas websocket. Inbound messages share
// one envelope; outbound messages are typed payloads with the same "type"
// discriminator.
const (
	MessageJoin      = "join"
	MessageLeave     = "leave"
	MessageSync      = "sync"
	MessageAwareness = "awareness"

	MessageLoaded = "loaded"
	MessageUsers  = "users"
	MessageSaved  = "saved"
	MessageError  = "error"
)

// Error codes sent to clients on terminal join failures.
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeLoadFailed   = "load_failed"
)

// Envelope is the inbound client message.
type Envelope struct {
	Type     string `json:"type"`
	CanvasID string `json:"canvasId,omitempty"`

	// join
	Token string `json:"token,omitempty"`

	// sync
	Elements []json.RawMessage `json:"elements,omitempty"`
	AppState json.RawMessage   `json:"appState,omitempty"`

	// awareness
	Cursor             *Position `json:"cursor,omitempty"`
	SelectedElementIDs []string  `json:"selectedElementIds,omitempty"`
}

// LoadedPayload answers a join with the authoritative scene and the current
// member list.
type LoadedPayload struct {
	Type     string            `json:"type"`
	CanvasID string            `json:"canvasId"`
	Elements []json.RawMessage `json:"elements"`
	AppState json.RawMessage   `json:"appState,omitempty"`
	Users    []Collaborator    `json:"users"`
}

// SyncPayload relays the full merged scene to the other room members.
type SyncPayload struct {
	Type     string            `json:"type"`
	CanvasID string            `json:"canvasId"`
	UserID   string            `json:"userId"`
	Elements []json.RawMessage `json:"elements"`
	AppState json.RawMessage   `json:"appState,omitempty"`
}

// AwarenessPayload relays a cursor/selection update. Fire-and-forget; only
// the latest value matters at each receiver.
type AwarenessPayload struct {
	Type               string    `json:"type"`
	CanvasID           string    `json:"canvasId"`
	UserID             string    `json:"userId"`
	Name               string    `json:"name"`
	Color              string    `json:"color,omitempty"`
	Cursor             *Position `json:"cursor,omitempty"`
	SelectedElementIDs []string  `json:"selectedElementIds,omitempty"`
}

// UsersPayload is pushed whenever room membership changes.
type UsersPayload struct {
	Type     string         `json:"type"`
	CanvasID string         `json:"canvasId"`
	Users    []Collaborator `json:"users"`
}

// SavedPayload acknowledges a successful persistence write.
type SavedPayload struct {
	Type     string `json:"type"`
	CanvasID string `json:"canvasId"`
	SavedAt  string `json:"savedAt"`
}

// ErrorPayload reports a terminal connection-level failure. Retryable tells
// the client whether trying again may succeed (storage hiccup) or not
// (bad credentials, unknown canvas).
type ErrorPayload struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
