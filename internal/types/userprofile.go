package types

import (
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"
)

// AffiliationType values accepted on a UserProfile.
const (
  AffiliationSchool    = "school"
  AffiliationAcademy   = "academy"
  AffiliationTherapy   = "therapy"
  AffiliationHome      = "home"
)

type UserProfile struct {
  gorm.Model
  ID                  uuid.UUID                 `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  UserID              uuid.UUID                 `gorm:"uniqueIndex;not null" json:"userID"`
  User                *User                     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`

  DisplayName         string                    `gorm:"not null;column:display_name" json:"displayName"`
  AffiliationType     string                    `gorm:"column:affiliation_type" json:"affiliationType"`
  AvatarBucketKey     string                    `gorm:"column:avatar_bucket_key" json:"avatarBucketKey"`
  AvatarURL           string                    `gorm:"column:avatar_url" json:"avatarURL"`

  CreatedAt           time.Time                 `gorm:"not null;default:now()" json:"createdAt"`
  UpdatedAt           time.Time                 `gorm:"not null;default:now()" json:"updatedAt"`
}

func (UserProfile) TableName() string {
  return "user_profile"
}
