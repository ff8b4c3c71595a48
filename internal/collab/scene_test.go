package collab

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func el(id string, version int64, label string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"version":%d,"label":%q}`, id, version, label))
}

func TestSceneMergeAcceptsNewerVersions(t *testing.T) {
	s := NewScene()

	accepted, _ := s.Merge([]json.RawMessage{el("a", 1, "first")}, nil)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, int64(1), s.Version("a"))

	accepted, _ = s.Merge([]json.RawMessage{el("a", 3, "newer")}, nil)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, int64(3), s.Version("a"))
}

func TestSceneMergeDiscardsStaleAndTiedVersions(t *testing.T) {
	s := NewScene()
	s.Merge([]json.RawMessage{el("a", 5, "held")}, nil)

	// Older version: dropped.
	accepted, _ := s.Merge([]json.RawMessage{el("a", 4, "old")}, nil)
	assert.Equal(t, 0, accepted)

	// Equal version: also dropped, the held element wins the tie.
	accepted, _ = s.Merge([]json.RawMessage{el("a", 5, "tied")}, nil)
	assert.Equal(t, 0, accepted)

	var held struct {
		Label string `json:"label"`
	}
	require.NoError(t, json.Unmarshal(s.Elements()[0], &held))
	assert.Equal(t, "held", held.Label)
}

func TestSceneMergeOrderIndependent(t *testing.T) {
	batchA := []json.RawMessage{el("x", 2, "xa"), el("y", 1, "ya")}
	batchB := []json.RawMessage{el("x", 1, "xb"), el("y", 3, "yb")}

	ab := NewScene()
	ab.Merge(batchA, nil)
	ab.Merge(batchB, nil)

	ba := NewScene()
	ba.Merge(batchB, nil)
	ba.Merge(batchA, nil)

	assert.Equal(t, ab.Version("x"), ba.Version("x"))
	assert.Equal(t, ab.Version("y"), ba.Version("y"))
	assert.Equal(t, int64(2), ab.Version("x"))
	assert.Equal(t, int64(3), ab.Version("y"))
}

func TestSceneMergeSkipsElementsWithoutID(t *testing.T) {
	s := NewScene()
	accepted, _ := s.Merge([]json.RawMessage{
		json.RawMessage(`{"version":1}`),
		json.RawMessage(`not json`),
		el("ok", 1, "fine"),
	}, nil)

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, s.Len())
}

func TestSceneMergeReplacesAppState(t *testing.T) {
	s := NewScene()
	_, changed := s.Merge(nil, json.RawMessage(`{"zoom":1}`))
	assert.True(t, changed)
	assert.JSONEq(t, `{"zoom":1}`, string(s.AppState()))

	// nil appState leaves the held blob alone.
	_, changed = s.Merge([]json.RawMessage{el("a", 1, "x")}, nil)
	assert.False(t, changed)
	assert.JSONEq(t, `{"zoom":1}`, string(s.AppState()))

	// New appState replaces it even when no element is accepted.
	accepted, changed := s.Merge(nil, json.RawMessage(`{"zoom":2}`))
	assert.Equal(t, 0, accepted)
	assert.True(t, changed)
	assert.JSONEq(t, `{"zoom":2}`, string(s.AppState()))

	// Byte-identical appState is not a change.
	_, changed = s.Merge(nil, json.RawMessage(`{"zoom":2}`))
	assert.False(t, changed)
}

func TestSceneElementsKeepInsertionOrder(t *testing.T) {
	s := NewScene()
	s.Merge([]json.RawMessage{el("b", 1, ""), el("a", 1, "")}, nil)
	s.Merge([]json.RawMessage{el("c", 1, ""), el("a", 2, "")}, nil)

	var ids []string
	for _, raw := range s.Elements() {
		var hdr struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &hdr))
		ids = append(ids, hdr.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestNewSceneFromPersistedData(t *testing.T) {
	s := NewSceneFrom(
		[]json.RawMessage{el("a", 7, "stored")},
		json.RawMessage(`{"grid":true}`),
	)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(7), s.Version("a"))
	assert.JSONEq(t, `{"grid":true}`, string(s.AppState()))
}
