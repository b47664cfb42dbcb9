package models

import (
	"time"

	"gorm.io/datatypes"
)

// Stored value keys.
const (
	StoredKeyToken = "token"
	StoredKeyUser  = "user"
)

// StoredValue is one durable key/value entry of the persisted session.
type StoredValue struct {
	Key       string         `gorm:"primaryKey;size:64" json:"key"`
	Value     datatypes.JSON `gorm:"type:json" json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}
