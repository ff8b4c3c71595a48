package collab

import (
	"bytes"
	"encoding/json"
)

// elementHeader is the only part of a drawing element the server interprets.
// Everything else is opaque to the collaboration layer and passed through
// untouched, so the drawing library can evolve without server changes.
type elementHeader struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

type sceneElement struct {
	version int64
	raw     json.RawMessage
}

// Scene is the server's in-memory copy of one canvas: an ordered element
// list plus the opaque app-state blob. It is a cache over durable storage
// and converges to what gets persisted.
//
// Scene is not safe for concurrent use; the hub serializes access per room.
type Scene struct {
	elements map[string]sceneElement
	order    []string
	appState json.RawMessage
}

// NewScene creates an empty scene.
func NewScene() *Scene {
	return &Scene{
		elements: make(map[string]sceneElement),
	}
}

// NewSceneFrom builds a scene from a persisted element list and app state.
// Elements without an id are dropped.
func NewSceneFrom(elements []json.RawMessage, appState json.RawMessage) *Scene {
	s := NewScene()
	s.Merge(elements, appState)
	return s
}

// Merge folds an incoming element list into the scene, element by element:
// an element replaces the held one only when unknown or strictly newer by
// version. Ties and older versions are discarded silently (last writer wins
// by version, independent of arrival order). A non-nil appState replaces the
// held blob when its bytes differ. Returns the number of elements accepted
// and whether the app state changed, so callers can tell a genuinely stale
// batch from one that only moved the app state.
func (s *Scene) Merge(elements []json.RawMessage, appState json.RawMessage) (accepted int, appStateChanged bool) {
	for _, raw := range elements {
		var hdr elementHeader
		if err := json.Unmarshal(raw, &hdr); err != nil || hdr.ID == "" {
			continue
		}

		held, exists := s.elements[hdr.ID]
		if exists && hdr.Version <= held.version {
			continue // stale write, not an error
		}

		if !exists {
			s.order = append(s.order, hdr.ID)
		}
		s.elements[hdr.ID] = sceneElement{version: hdr.Version, raw: raw}
		accepted++
	}

	if appState != nil && !bytes.Equal(appState, s.appState) {
		s.appState = appState
		appStateChanged = true
	}

	return accepted, appStateChanged
}

// Elements returns the full element list in stable insertion order.
func (s *Scene) Elements() []json.RawMessage {
	out := make([]json.RawMessage, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.elements[id].raw)
	}
	return out
}

// AppState returns the held app-state blob (may be nil).
func (s *Scene) AppState() json.RawMessage {
	return s.appState
}

// Version returns the held version for an element id, or -1 if unknown.
func (s *Scene) Version(id string) int64 {
	if el, ok := s.elements[id]; ok {
		return el.version
	}
	return -1
}

// Len returns the number of elements in the scene.
func (s *Scene) Len() int {
	return len(s.elements)
}
