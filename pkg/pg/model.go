package pg

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Model is the common head of every entity keyed by an opaque string id.
// Ids are generated client side so the same entities work on postgres and
// on the sqlite databases used in tests.
type Model struct {
	ID        string    `gorm:"primaryKey;type:varchar(36);column:id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *Model) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
