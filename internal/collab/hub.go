package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Identity is the authenticated user behind a session, as extracted from the
// join token.
type Identity struct {
	UserID string
	Name   string
	Avatar string
}

// TokenValidator checks the token presented on join. The server wires this to
// the JWT manager; tests use a stub.
type TokenValidator interface {
	Validate(token string) (*Identity, error)
}

// SceneData is the persisted shape of a canvas scene.
type SceneData struct {
	Elements []json.RawMessage `json:"elements"`
	AppState json.RawMessage   `json:"appState,omitempty"`
}

// ErrCanvasNotFound is returned by an ElementStore when the canvas id does
// not exist. The hub maps it to a non-retryable join error.
var ErrCanvasNotFound = errors.New("canvas not found")

// ElementStore loads and saves canvas scenes. Implemented by the storage
// layer over Postgres (with a Redis read-through in front).
type ElementStore interface {
	LoadScene(ctx context.Context, canvasID string) (*SceneData, error)
	SaveScene(ctx context.Context, canvasID string, scene *SceneData) error
}

// collaboratorColors is the palette cycled through as users join a room. The
// color is an ephemeral room-scoped attribute, not part of the user record.
var collaboratorColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
	"#BB8FCE", "#85C1E9", "#F8B500", "#6C5CE7",
}

// roomState is the per-room authoritative state: the merged scene plus the
// dirty-tracking bookkeeping for debounced saves. Guarded by its own mutex so
// a slow save in one room never blocks merges in another.
type roomState struct {
	mu         sync.Mutex
	canvasID   string
	scene      *Scene
	dirty      bool
	dirtySince time.Time
	rev        uint64 // bumped on every accepted merge; detects dirt arriving mid-save
	saveTimer  *time.Timer
	saving     bool
}

// Hub routes all collaboration traffic: joins, scene syncs, awareness relays
// and leaves. One hub per process; rooms are created lazily on first join and
// torn down (after a final flush) when the last member leaves.
type Hub struct {
	registry  *Registry
	store     ElementStore
	validator TokenValidator

	saveDebounce time.Duration
	saveMaxDelay time.Duration

	mu    sync.Mutex
	rooms map[string]*roomState
}

// NewHub creates a hub over the given registry, store and token validator.
// saveDebounce is the quiet period before a dirty room is persisted;
// saveMaxDelay caps how long a continuously-edited room may stay unsaved.
func NewHub(registry *Registry, store ElementStore, validator TokenValidator, saveDebounce, saveMaxDelay time.Duration) *Hub {
	return &Hub{
		registry:     registry,
		store:        store,
		validator:    validator,
		saveDebounce: saveDebounce,
		saveMaxDelay: saveMaxDelay,
		rooms:        make(map[string]*roomState),
	}
}

// Join authenticates the session, cold-loads the scene if this is the first
// member, registers the session and pushes the loaded scene to the joiner and
// a membership update to everyone else. On failure the joiner gets a typed
// error payload and the connection is closed; no room is created.
func (h *Hub) Join(ctx context.Context, sess *Session, canvasID, token string) error {
	ident, err := h.validator.Validate(token)
	if err != nil {
		h.rejectAndClose(sess, ErrCodeUnauthorized, "invalid or expired token", false)
		return err
	}
	sess.setIdentity(ident.UserID, ident.Name, ident.Avatar)

	// A session belongs to at most one room: switching canvases leaves the
	// old room first, including the last-member flush.
	if prev := sess.CanvasID(); prev != "" && prev != canvasID {
		h.Leave(ctx, sess)
	}

	room, err := h.roomFor(ctx, canvasID)
	if err != nil {
		if errors.Is(err, ErrCanvasNotFound) {
			h.rejectAndClose(sess, ErrCodeNotFound, "canvas does not exist", false)
		} else {
			h.rejectAndClose(sess, ErrCodeLoadFailed, "could not load canvas", true)
		}
		return err
	}

	// Registration happens under the hub lock so a concurrent last-member
	// leave cannot tear the room down between the load above and the join:
	// if it did, the room is re-inserted here and stays reachable for syncs.
	h.mu.Lock()
	if existing, ok := h.rooms[canvasID]; ok {
		room = existing
	} else {
		h.rooms[canvasID] = room
	}
	count := h.registry.Join(canvasID, sess)
	h.mu.Unlock()
	sess.setRoom(canvasID, collaboratorColors[(count-1)%len(collaboratorColors)])

	log.Printf("[Collab] user %s joined canvas %s (%d members)", ident.UserID, canvasID, count)

	room.mu.Lock()
	loaded := LoadedPayload{
		Type:     MessageLoaded,
		CanvasID: canvasID,
		Elements: room.scene.Elements(),
		AppState: room.scene.AppState(),
		Users:    h.collaborators(canvasID),
	}
	room.mu.Unlock()

	if err := sess.Send(loaded); err != nil {
		log.Printf("[Collab] loaded push to %s failed: %v", ident.UserID, err)
	}
	h.pushUsers(canvasID, sess.ID)
	return nil
}

// Sync merges the session's element list into the room scene. When anything
// changes (an accepted element or a new app state) the room is marked dirty,
// a save is scheduled, and the full merged scene is broadcast to every other
// member. A sync that changes nothing is not rebroadcast.
func (h *Hub) Sync(sess *Session, elements []json.RawMessage, appState json.RawMessage) {
	canvasID := sess.CanvasID()
	if canvasID == "" {
		return
	}
	room := h.room(canvasID)
	if room == nil {
		return
	}

	room.mu.Lock()
	accepted, stateChanged := room.scene.Merge(elements, appState)
	if accepted == 0 && !stateChanged {
		room.mu.Unlock()
		return
	}
	room.rev++
	h.markDirtyLocked(room)
	payload := SyncPayload{
		Type:     MessageSync,
		CanvasID: canvasID,
		UserID:   sess.UserID(),
		Elements: room.scene.Elements(),
		AppState: room.scene.AppState(),
	}
	room.mu.Unlock()

	for _, target := range h.registry.BroadcastTargets(canvasID, sess.ID) {
		if err := target.Send(payload); err != nil {
			log.Printf("[Collab] sync push to %s failed: %v", target.UserID(), err)
		}
	}
}

// Awareness records the sender's cursor and relays the update to every other
// room member. Never echoed back, never persisted; a lost update is simply
// superseded by the next one.
func (h *Hub) Awareness(sess *Session, cursor *Position, selected []string) {
	canvasID := sess.CanvasID()
	if canvasID == "" {
		return
	}
	sess.setCursor(cursor)

	who := sess.Collaborator()
	payload := AwarenessPayload{
		Type:               MessageAwareness,
		CanvasID:           canvasID,
		UserID:             who.UserID,
		Name:               who.Name,
		Color:              who.Color,
		Cursor:             cursor,
		SelectedElementIDs: selected,
	}
	for _, target := range h.registry.BroadcastTargets(canvasID, sess.ID) {
		_ = target.Send(payload)
	}
}

// Leave removes the session from its room. The last member out triggers a
// synchronous flush of any unsaved changes and tears the room down; otherwise
// the remaining members get a membership update. Safe to call twice: the
// disconnect path always calls it, whether or not a leave message arrived.
func (h *Hub) Leave(ctx context.Context, sess *Session) {
	canvasID := sess.clearRoom()
	if canvasID == "" {
		return
	}

	remaining := h.registry.Leave(canvasID, sess.ID)
	log.Printf("[Collab] user %s left canvas %s (%d remaining)", sess.UserID(), canvasID, remaining)

	if remaining > 0 {
		h.pushUsers(canvasID, "")
		return
	}

	h.mu.Lock()
	if h.registry.Count(canvasID) > 0 {
		// A join landed between the registry leave and here; the room stays.
		h.mu.Unlock()
		return
	}
	room := h.rooms[canvasID]
	delete(h.rooms, canvasID)
	h.mu.Unlock()
	if room == nil {
		return
	}

	room.mu.Lock()
	if room.saveTimer != nil {
		room.saveTimer.Stop()
		room.saveTimer = nil
	}
	dirty := room.dirty
	snapshot := h.snapshotLocked(room)
	room.dirty = false
	room.mu.Unlock()

	if dirty {
		if err := h.store.SaveScene(ctx, canvasID, snapshot); err != nil {
			log.Printf("[Collab] final flush for canvas %s failed: %v", canvasID, err)
		}
	}
}

// roomFor returns the room for canvasID, cold-loading the scene from storage
// when the room does not exist yet. Storage is hit once per room lifetime.
func (h *Hub) roomFor(ctx context.Context, canvasID string) (*roomState, error) {
	h.mu.Lock()
	if room, ok := h.rooms[canvasID]; ok {
		h.mu.Unlock()
		return room, nil
	}
	h.mu.Unlock()

	// Load outside the hub lock; concurrent first-joiners may race here and
	// both load, but only one scene wins the map slot below.
	data, err := h.store.LoadScene(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[canvasID]; ok {
		return room, nil
	}
	room := &roomState{
		canvasID: canvasID,
		scene:    NewSceneFrom(data.Elements, data.AppState),
	}
	h.rooms[canvasID] = room
	return room, nil
}

func (h *Hub) room(canvasID string) *roomState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[canvasID]
}

// markDirtyLocked marks the room dirty and (re)schedules the debounced save.
// The delay is the quiet period, clamped so the room never stays dirty past
// dirtySince + saveMaxDelay even under continuous editing. Caller holds
// room.mu.
func (h *Hub) markDirtyLocked(room *roomState) {
	now := time.Now()
	if !room.dirty {
		room.dirty = true
		room.dirtySince = now
	}

	delay := h.saveDebounce
	if ceiling := room.dirtySince.Add(h.saveMaxDelay).Sub(now); ceiling < delay {
		delay = ceiling
	}
	if delay < 0 {
		delay = 0
	}

	if room.saveTimer != nil {
		room.saveTimer.Stop()
	}
	room.saveTimer = time.AfterFunc(delay, func() {
		h.saveRoom(room)
	})
}

// saveRoom persists the room scene. Edits that land while the write is in
// flight bump room.rev, which keeps the room dirty and schedules another
// save; a failed write does the same so it is retried on the next cycle.
func (h *Hub) saveRoom(room *roomState) {
	room.mu.Lock()
	if !room.dirty || room.saving {
		room.mu.Unlock()
		return
	}
	room.saving = true
	rev := room.rev
	snapshot := h.snapshotLocked(room)
	canvasID := room.canvasID
	room.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := h.store.SaveScene(ctx, canvasID, snapshot)
	cancel()

	room.mu.Lock()
	room.saving = false
	if err != nil {
		log.Printf("[Collab] save for canvas %s failed: %v", canvasID, err)
		// Retry after a full quiet period rather than through the ceiling
		// clamp, which would spin once the ceiling has passed.
		if room.saveTimer != nil {
			room.saveTimer.Stop()
		}
		room.saveTimer = time.AfterFunc(h.saveDebounce, func() {
			h.saveRoom(room)
		})
		room.mu.Unlock()
		return
	}
	if room.rev == rev {
		room.dirty = false
	} else {
		h.markDirtyLocked(room)
	}
	room.mu.Unlock()

	payload := SavedPayload{
		Type:     MessageSaved,
		CanvasID: canvasID,
		SavedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	for _, member := range h.registry.Members(canvasID) {
		_ = member.Send(payload)
	}
}

func (h *Hub) snapshotLocked(room *roomState) *SceneData {
	return &SceneData{
		Elements: room.scene.Elements(),
		AppState: room.scene.AppState(),
	}
}

// collaborators returns the presence list for a room in join order.
func (h *Hub) collaborators(canvasID string) []Collaborator {
	members := h.registry.Members(canvasID)
	out := make([]Collaborator, 0, len(members))
	for _, m := range members {
		out = append(out, m.Collaborator())
	}
	return out
}

// pushUsers sends the membership list to every room member except exclude.
func (h *Hub) pushUsers(canvasID, excludeSessionID string) {
	payload := UsersPayload{
		Type:     MessageUsers,
		CanvasID: canvasID,
		Users:    h.collaborators(canvasID),
	}
	for _, target := range h.registry.BroadcastTargets(canvasID, excludeSessionID) {
		_ = target.Send(payload)
	}
}

func (h *Hub) rejectAndClose(sess *Session, code, msg string, retryable bool) {
	_ = sess.Send(ErrorPayload{
		Type:      MessageError,
		Code:      code,
		Message:   msg,
		Retryable: retryable,
	})
	_ = sess.Close()
}

// DirtyRooms reports how many rooms currently have unsaved changes. Used by
// the health endpoint.
func (h *Hub) DirtyRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, room := range h.rooms {
		room.mu.Lock()
		if room.dirty {
			n++
		}
		room.mu.Unlock()
	}
	return n
}

// FlushAll synchronously persists every dirty room. Called on graceful
// shutdown so in-memory edits are not lost.
func (h *Hub) FlushAll(ctx context.Context) error {
	h.mu.Lock()
	rooms := make([]*roomState, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	var firstErr error
	for _, room := range rooms {
		room.mu.Lock()
		if room.saveTimer != nil {
			room.saveTimer.Stop()
			room.saveTimer = nil
		}
		dirty := room.dirty
		snapshot := h.snapshotLocked(room)
		canvasID := room.canvasID
		room.dirty = false
		room.mu.Unlock()

		if !dirty {
			continue
		}
		if err := h.store.SaveScene(ctx, canvasID, snapshot); err != nil {
			log.Printf("[Collab] shutdown flush for canvas %s failed: %v", canvasID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("flush canvas %s: %w", canvasID, err)
			}
		}
	}
	return firstErr
}
