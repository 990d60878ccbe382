package models

import (
	"time"

	"gorm.io/gorm"
)

// UserProgress tracks gamified progression for each explorer (denormalized for performance)
type UserProgress struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // links to profile service

	// Core progression
	TotalXP int64 `json:"total_xp" gorm:"default:0"`
	Level   int   `json:"level" gorm:"default:1"`
	Rank    int   `json:"rank" gorm:"default:1"` // Hatchling(1)→Tracker(2)→Ranger(3)→Naturalist(4)→Warden(5)

	// Activity counters
	TotalSightings  int64 `json:"total_sightings" gorm:"default:0"`
	DailyCompleted  int64 `json:"daily_completed" gorm:"default:0"`
	WeeklyCompleted int64 `json:"weekly_completed" gorm:"default:0"`

	// Milestones
	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`
	LastRankUpAt  *time.Time `json:"last_rank_up_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
