package models

import (
	"time"

	"gorm.io/datatypes"
)

// Device preference kinds.
const (
	PreferenceNotes     = "notes"
	PreferenceChecklist = "checklist"
)

// DevicePreference keeps per-group UI conveniences that never leave this device.
type DevicePreference struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	GroupID   string         `gorm:"size:128;not null;uniqueIndex:idx_device_pref_group_kind" json:"group_id"`
	Kind      string         `gorm:"size:32;not null;uniqueIndex:idx_device_pref_group_kind" json:"kind"`
	Value     datatypes.JSON `gorm:"type:json" json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
