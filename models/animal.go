package models

import (
	"time"
)

// Animal is a local snapshot of the animal catalog.
// Owned by the catalog service; populated by the catalog sync worker.
type Animal struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalID     string    `gorm:"uniqueIndex;not null" json:"external_id"`
	Name           string    `gorm:"uniqueIndex;not null" json:"name"`
	ScientificName *string   `json:"scientific_name,omitempty"`
	Category       string    `gorm:"index" json:"category,omitempty"` // bird, mammal, reptile...
	Active         bool      `gorm:"not null" json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
