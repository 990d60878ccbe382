package models

import (
	"time"

	"gorm.io/datatypes"
)

// ManifestEntry is one animal and its likelihood (0..100) of being sighted in a region.
type ManifestEntry struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
}

// RegionManifest is the per-region, write-once list of likely animals.
// Created lazily on the first request for an unseen region key.
type RegionManifest struct {
	ID             string                             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RegionKey      string                             `gorm:"uniqueIndex;not null" json:"region_key"`
	Location       string                             `gorm:"not null" json:"location"` // display name
	CenterLat      float64                            `json:"center_lat"`
	CenterLon      float64                            `json:"center_lon"`
	AnimalManifest datatypes.JSONSlice[ManifestEntry] `json:"animal_manifest"`
	CreatedAt      time.Time                          `gorm:"autoCreateTime" json:"created_at"`
}
