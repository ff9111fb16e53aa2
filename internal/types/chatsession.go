package types

import (
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"
)

// Session categories. "image" sessions produce picture materials, "document"
// sessions produce printable documents.
const (
  SessionCategoryImage    = "image"
  SessionCategoryDocument = "document"
)

type ChatSession struct {
  gorm.Model
  ID          uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  UserID      uuid.UUID         `gorm:"index;not null" json:"userID"`
  User        *User             `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`

  Category    string            `gorm:"not null;column:category" json:"category"`
  Title       string            `gorm:"column:title" json:"title"`

  CreatedAt   time.Time         `gorm:"not null;default:now()" json:"createdAt"`
  UpdatedAt   time.Time         `gorm:"not null;default:now()" json:"updatedAt"`
}

func (ChatSession) TableName() string {
  return "chat_session"
}
