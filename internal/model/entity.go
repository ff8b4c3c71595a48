package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the authenticated account a session belongs to. Accounts are
// provisioned by the surrounding platform; this service only reads them.
type User struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Avatar    *string   `gorm:"type:text" json:"avatar,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Canvas is the persisted drawing surface. Data holds the serialized scene
// (element list + app state blob) as JSONB; it is written only by the
// collaboration server's persistence step, never directly by clients.
type Canvas struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID     string    `gorm:"type:uuid;not null;index" json:"owner_id"`
	ProjectID   *string   `gorm:"type:uuid;index" json:"project_id,omitempty"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	IsPublic    bool      `gorm:"default:false" json:"is_public"`
	Data        string    `gorm:"type:jsonb;not null;default:'{}'" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Owner User `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
}

func (Canvas) TableName() string {
	return "canvases"
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (c *Canvas) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
