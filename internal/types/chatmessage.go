package types

import (
  "encoding/json"
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"
)

const (
  MessageRoleUser      = "user"
  MessageRoleAssistant = "assistant"
)

const (
  MessageKindText     = "text"
  MessageKindImage    = "image"
  MessageKindDocument = "document"
)

// ChatMessage rows are immutable once created. A message of kind "image" or
// "document" carries either a durable AssetURL or inline fallback data in
// AssetURL (a data: URI), never neither.
type ChatMessage struct {
  gorm.Model
  ID              uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  SessionID       uuid.UUID         `gorm:"index;not null" json:"sessionID"`
  Session         *ChatSession      `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"-"`

  Role            string            `gorm:"not null;column:role" json:"role"`
  Kind            string            `gorm:"not null;column:kind" json:"kind"`
  Contents        string            `gorm:"type:text;column:contents" json:"contents"`
  AssetURL        string            `gorm:"type:text;column:asset_url" json:"assetURL,omitempty"`
  GenerationRef   string            `gorm:"column:generation_ref;index" json:"generationRef,omitempty"`
  Meta            datatypes.JSON    `gorm:"column:meta" json:"meta,omitempty"`

  CreatedAt       time.Time         `gorm:"not null;default:now()" json:"createdAt"`
  UpdatedAt       time.Time         `gorm:"not null;default:now()" json:"updatedAt"`
}

func (ChatMessage) TableName() string {
  return "chat_message"
}

// MessageMeta is the structured payload stored in a ChatMessage's Meta
// column. Only asset-bearing messages carry one.
type MessageMeta struct {
  MimeType  string `json:"mimeType,omitempty"`
  AssetName string `json:"assetName,omitempty"`
  SourceURL string `json:"sourceURL,omitempty"`
  SizeBytes int    `json:"sizeBytes,omitempty"`
  Inline    bool   `json:"inline,omitempty"`
}

func (m MessageMeta) JSON() datatypes.JSON {
  raw, err := json.Marshal(m)
  if err != nil {
    return nil
  }
  return datatypes.JSON(raw)
}
