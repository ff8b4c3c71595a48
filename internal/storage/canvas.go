package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/collab"
	"canvas-backend/internal/model"
)

// ErrCanvasNotFound aliases the collab-layer sentinel so both the hub and
// the REST handlers test against one error.
var ErrCanvasNotFound = collab.ErrCanvasNotFound

const (
	cacheKeyPrefix = "canvas:"
	cacheTTL       = 30 * time.Minute
)

// CanvasStore persists canvas records in Postgres, with an optional Redis
// read-through cache in front of the record reads. The cache client may be
// nil; every path degrades to the database.
type CanvasStore struct {
	db    *gorm.DB
	cache *cache.RedisClient
}

// NewCanvasStore creates a store over db. cacheClient may be nil.
func NewCanvasStore(db *gorm.DB, cacheClient *cache.RedisClient) *CanvasStore {
	return &CanvasStore{db: db, cache: cacheClient}
}

// LoadScene reads the scene blob for a canvas. Implements collab.ElementStore.
func (s *CanvasStore) LoadScene(ctx context.Context, canvasID string) (*collab.SceneData, error) {
	var canvas model.Canvas
	err := s.db.WithContext(ctx).
		Select("id", "data").
		First(&canvas, "id = ?", canvasID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCanvasNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load scene: %w", err)
	}

	scene := &collab.SceneData{}
	if canvas.Data != "" && canvas.Data != "{}" {
		if err := json.Unmarshal([]byte(canvas.Data), scene); err != nil {
			return nil, fmt.Errorf("decode scene: %w", err)
		}
	}
	return scene, nil
}

// SaveScene writes the full scene blob for a canvas and invalidates its
// cached record. Implements collab.ElementStore.
func (s *CanvasStore) SaveScene(ctx context.Context, canvasID string, scene *collab.SceneData) error {
	data, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}

	res := s.db.WithContext(ctx).
		Model(&model.Canvas{}).
		Where("id = ?", canvasID).
		Update("data", string(data))
	if res.Error != nil {
		return fmt.Errorf("save scene: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCanvasNotFound
	}

	s.invalidate(ctx, canvasID)
	return nil
}

// Create inserts a new canvas.
func (s *CanvasStore) Create(ctx context.Context, canvas *model.Canvas) error {
	if err := s.db.WithContext(ctx).Create(canvas).Error; err != nil {
		return fmt.Errorf("create canvas: %w", err)
	}
	return nil
}

// FindByID fetches one canvas record, cache first.
func (s *CanvasStore) FindByID(ctx context.Context, canvasID string) (*model.Canvas, error) {
	if s.cache != nil {
		var cached model.Canvas
		err := s.cache.GetJSON(ctx, cacheKeyPrefix+canvasID, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("[Storage] cache read for canvas %s failed: %v", canvasID, err)
		}
	}

	var canvas model.Canvas
	err := s.db.WithContext(ctx).First(&canvas, "id = ?", canvasID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCanvasNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find canvas: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKeyPrefix+canvasID, &canvas, cacheTTL); err != nil {
			log.Printf("[Storage] cache write for canvas %s failed: %v", canvasID, err)
		}
	}
	return &canvas, nil
}

// FindByOwner lists the canvases owned by a user, newest first.
func (s *CanvasStore) FindByOwner(ctx context.Context, ownerID string) ([]model.Canvas, error) {
	var canvases []model.Canvas
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&canvases).Error
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	return canvases, nil
}

// UpdateMeta updates the mutable metadata fields of a canvas.
func (s *CanvasStore) UpdateMeta(ctx context.Context, canvasID string, updates map[string]interface{}) (*model.Canvas, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Canvas{}).
		Where("id = ?", canvasID).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update canvas: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrCanvasNotFound
	}

	s.invalidate(ctx, canvasID)
	return s.FindByID(ctx, canvasID)
}

// Delete removes a canvas record.
func (s *CanvasStore) Delete(ctx context.Context, canvasID string) error {
	res := s.db.WithContext(ctx).Delete(&model.Canvas{}, "id = ?", canvasID)
	if res.Error != nil {
		return fmt.Errorf("delete canvas: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCanvasNotFound
	}

	s.invalidate(ctx, canvasID)
	return nil
}

func (s *CanvasStore) invalidate(ctx context.Context, canvasID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKeyPrefix+canvasID); err != nil {
		log.Printf("[Storage] cache invalidation for canvas %s failed: %v", canvasID, err)
	}
}
