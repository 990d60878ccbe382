package models

import (
	"time"
)

// BadgeType: static config (seeded from BadgeTriggers at startup)
type BadgeType struct {
	ID          string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Code        string           `gorm:"uniqueIndex;not null" json:"code"` // e.g., "FIRST_SIGHTING", "WEEKLY_CHAMP"
	Name        string           `gorm:"not null" json:"name"`
	Description string           `json:"description"`
	IconURL     string           `gorm:"type:text" json:"icon_url"`
	Rarity      string           `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	Threshold   map[string]int64 `gorm:"serializer:json" json:"threshold"`                // e.g., {"total_sightings": 10}
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// UserBadge: awarded instance (many-to-many)
type UserBadge struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalUserID string    `gorm:"uniqueIndex:ux_user_badge,priority:1;not null" json:"external_user_id"`
	BadgeTypeID    string    `gorm:"uniqueIndex:ux_user_badge,priority:2;not null" json:"badge_type_id"`
	AwardedAt      time.Time `gorm:"autoCreateTime" json:"awarded_at"`

	BadgeType BadgeType `gorm:"foreignKey:BadgeTypeID" json:"badge"`
}

// Predefined badge triggers
var BadgeTriggers = []BadgeType{
	{
		Code:        "FIRST_SIGHTING",
		Name:        "First Glimpse",
		Description: "Confirmed your first wildlife sighting",
		Rarity:      "common",
		Threshold:   map[string]int64{"total_sightings": 1},
	},
	{
		Code:        "SIGHTINGS_50",
		Name:        "Keen Eye",
		Description: "Confirmed 50 sightings",
		Rarity:      "rare",
		Threshold:   map[string]int64{"total_sightings": 50},
	},
	{
		Code:        "FIRST_CHALLENGE",
		Name:        "Trailblazer",
		Description: "Completed your first daily challenge",
		Rarity:      "common",
		Threshold:   map[string]int64{"daily_completed": 1},
	},
	{
		Code:        "WEEKLY_CHAMP",
		Name:        "Weekly Champion",
		Description: "Completed a weekly challenge",
		Rarity:      "epic",
		Threshold:   map[string]int64{"weekly_completed": 1},
	},
	{
		Code:        "LEVEL_10",
		Name:        "Seasoned Tracker",
		Description: "Reached Level 10",
		Rarity:      "epic",
		Threshold:   map[string]int64{"level": 10},
	},
}
