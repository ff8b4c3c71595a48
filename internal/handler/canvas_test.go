package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/model"
	"canvas-backend/internal/storage"
)

type mockRepo struct {
	canvases map[string]*model.Canvas
	created  []*model.Canvas
	deleted  []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{canvases: map[string]*model.Canvas{}}
}

func (m *mockRepo) Create(ctx context.Context, canvas *model.Canvas) error {
	canvas.ID = "canvas-new"
	m.created = append(m.created, canvas)
	m.canvases[canvas.ID] = canvas
	return nil
}

func (m *mockRepo) FindByID(ctx context.Context, canvasID string) (*model.Canvas, error) {
	canvas, ok := m.canvases[canvasID]
	if !ok {
		return nil, storage.ErrCanvasNotFound
	}
	return canvas, nil
}

func (m *mockRepo) FindByOwner(ctx context.Context, ownerID string) ([]model.Canvas, error) {
	var out []model.Canvas
	for _, c := range m.canvases {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockRepo) UpdateMeta(ctx context.Context, canvasID string, updates map[string]interface{}) (*model.Canvas, error) {
	canvas, ok := m.canvases[canvasID]
	if !ok {
		return nil, storage.ErrCanvasNotFound
	}
	if name, ok := updates["name"].(string); ok {
		canvas.Name = name
	}
	if pub, ok := updates["is_public"].(bool); ok {
		canvas.IsPublic = pub
	}
	return canvas, nil
}

func (m *mockRepo) Delete(ctx context.Context, canvasID string) error {
	if _, ok := m.canvases[canvasID]; !ok {
		return storage.ErrCanvasNotFound
	}
	delete(m.canvases, canvasID)
	m.deleted = append(m.deleted, canvasID)
	return nil
}

// newTestApp wires the canvas routes behind a stub auth layer that trusts the
// X-Test-User header.
func newTestApp(repo CanvasRepository) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", c.Get("X-Test-User", "u1"))
		return c.Next()
	})

	h := NewCanvasHandler(repo)
	app.Post("/api/canvases", h.CreateCanvas)
	app.Get("/api/canvases", h.ListCanvases)
	app.Get("/api/canvases/:id", h.GetCanvas)
	app.Patch("/api/canvases/:id", h.UpdateCanvas)
	app.Delete("/api/canvases/:id", h.DeleteCanvas)
	return app
}

func decodeBody(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestCreateCanvas(t *testing.T) {
	repo := newMockRepo()
	app := newTestApp(repo)

	req := httptest.NewRequest("POST", "/api/canvases", bytes.NewBufferString(`{"name":"  Design Draft  "}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	require.Len(t, repo.created, 1)
	assert.Equal(t, "Design Draft", repo.created[0].Name)
	assert.Equal(t, "u1", repo.created[0].OwnerID)
}

func TestCreateCanvasRequiresName(t *testing.T) {
	app := newTestApp(newMockRepo())

	req := httptest.NewRequest("POST", "/api/canvases", bytes.NewBufferString(`{"name":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetCanvasNotFound(t *testing.T) {
	app := newTestApp(newMockRepo())

	resp, err := app.Test(httptest.NewRequest("GET", "/api/canvases/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetCanvasPrivateForbiddenForNonOwner(t *testing.T) {
	repo := newMockRepo()
	repo.canvases["c1"] = &model.Canvas{ID: "c1", OwnerID: "owner", Name: "Secret", IsPublic: false}
	app := newTestApp(repo)

	req := httptest.NewRequest("GET", "/api/canvases/c1", nil)
	req.Header.Set("X-Test-User", "intruder")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestGetCanvasPublicVisibleToAnyone(t *testing.T) {
	repo := newMockRepo()
	repo.canvases["c1"] = &model.Canvas{ID: "c1", OwnerID: "owner", Name: "Shared", IsPublic: true}
	app := newTestApp(repo)

	req := httptest.NewRequest("GET", "/api/canvases/c1", nil)
	req.Header.Set("X-Test-User", "visitor")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "Shared", body["name"])
}

func TestUpdateCanvasOwnerOnly(t *testing.T) {
	repo := newMockRepo()
	repo.canvases["c1"] = &model.Canvas{ID: "c1", OwnerID: "owner", Name: "Before"}
	app := newTestApp(repo)

	req := httptest.NewRequest("PATCH", "/api/canvases/c1", bytes.NewBufferString(`{"name":"After"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "intruder")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("PATCH", "/api/canvases/c1", bytes.NewBufferString(`{"name":"After"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "owner")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "After", repo.canvases["c1"].Name)
}

func TestDeleteCanvas(t *testing.T) {
	repo := newMockRepo()
	repo.canvases["c1"] = &model.Canvas{ID: "c1", OwnerID: "owner", Name: "Doomed"}
	app := newTestApp(repo)

	req := httptest.NewRequest("DELETE", "/api/canvases/c1", nil)
	req.Header.Set("X-Test-User", "owner")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"c1"}, repo.deleted)
}

func TestListCanvasesScopedToOwner(t *testing.T) {
	repo := newMockRepo()
	repo.canvases["c1"] = &model.Canvas{ID: "c1", OwnerID: "u1", Name: "Mine"}
	repo.canvases["c2"] = &model.Canvas{ID: "c2", OwnerID: "u2", Name: "Theirs"}
	app := newTestApp(repo)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/canvases", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	canvases := body["canvases"].([]interface{})
	require.Len(t, canvases, 1)
	assert.Equal(t, "Mine", canvases[0].(map[string]interface{})["name"])
}
