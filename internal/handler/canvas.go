package handler

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"canvas-backend/internal/model"
	"canvas-backend/internal/storage"
)

// CanvasRepository is the storage surface the REST handlers need. Satisfied
// by *storage.CanvasStore; tests plug in a mock.
type CanvasRepository interface {
	Create(ctx context.Context, canvas *model.Canvas) error
	FindByID(ctx context.Context, canvasID string) (*model.Canvas, error)
	FindByOwner(ctx context.Context, ownerID string) ([]model.Canvas, error)
	UpdateMeta(ctx context.Context, canvasID string, updates map[string]interface{}) (*model.Canvas, error)
	Delete(ctx context.Context, canvasID string) error
}

type CanvasHandler struct {
	repo CanvasRepository
}

func NewCanvasHandler(repo CanvasRepository) *CanvasHandler {
	return &CanvasHandler{repo: repo}
}

type createCanvasRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	ProjectID   *string `json:"projectId,omitempty"`
	IsPublic    bool    `json:"isPublic"`
}

type updateCanvasRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsPublic    *bool   `json:"isPublic,omitempty"`
}

// CreateCanvas creates a canvas owned by the authenticated user.
func (h *CanvasHandler) CreateCanvas(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	var req createCanvasRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Canvas name is required"})
	}

	canvas := &model.Canvas{
		OwnerID:     userID,
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	}
	if err := h.repo.Create(c.Context(), canvas); err != nil {
		log.Printf("[Canvas] create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create canvas"})
	}

	return c.Status(fiber.StatusCreated).JSON(canvas)
}

// ListCanvases returns the authenticated user's canvases, newest first.
func (h *CanvasHandler) ListCanvases(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	canvases, err := h.repo.FindByOwner(c.Context(), userID)
	if err != nil {
		log.Printf("[Canvas] list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list canvases"})
	}
	return c.JSON(fiber.Map{"canvases": canvases})
}

// GetCanvas returns one canvas. Private canvases are visible to the owner
// only.
func (h *CanvasHandler) GetCanvas(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	canvasID := c.Params("id")

	canvas, err := h.repo.FindByID(c.Context(), canvasID)
	if errors.Is(err, storage.ErrCanvasNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Canvas not found"})
	}
	if err != nil {
		log.Printf("[Canvas] get %s failed: %v", canvasID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch canvas"})
	}
	if !canvas.IsPublic && canvas.OwnerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "No access to this canvas"})
	}
	return c.JSON(canvas)
}

// UpdateCanvas updates canvas metadata. Owner only.
func (h *CanvasHandler) UpdateCanvas(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	canvasID := c.Params("id")

	canvas, err := h.repo.FindByID(c.Context(), canvasID)
	if errors.Is(err, storage.ErrCanvasNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Canvas not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch canvas"})
	}
	if canvas.OwnerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only the owner can update a canvas"})
	}

	var req updateCanvasRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Canvas name cannot be empty"})
		}
		updates["name"] = name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.IsPublic != nil {
		updates["is_public"] = *req.IsPublic
	}
	if len(updates) == 0 {
		return c.JSON(canvas)
	}

	updated, err := h.repo.UpdateMeta(c.Context(), canvasID, updates)
	if err != nil {
		log.Printf("[Canvas] update %s failed: %v", canvasID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update canvas"})
	}
	return c.JSON(updated)
}

// DeleteCanvas removes a canvas. Owner only.
func (h *CanvasHandler) DeleteCanvas(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	canvasID := c.Params("id")

	canvas, err := h.repo.FindByID(c.Context(), canvasID)
	if errors.Is(err, storage.ErrCanvasNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Canvas not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch canvas"})
	}
	if canvas.OwnerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only the owner can delete a canvas"})
	}

	if err := h.repo.Delete(c.Context(), canvasID); err != nil {
		log.Printf("[Canvas] delete %s failed: %v", canvasID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete canvas"})
	}
	return c.JSON(fiber.Map{"success": true})
}
