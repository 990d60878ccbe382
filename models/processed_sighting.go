package models

import "time"

// ProcessedSighting records a confirmed sighting already applied to challenge
// progress, keyed by (user_id, sighting_id). It makes retried confirmations
// no-ops and doubles as the user's discovery log (mastered animals).
type ProcessedSighting struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	UserID      string    `gorm:"uniqueIndex:ux_user_sighting,priority:1;index:ix_user_animal,priority:1;not null"`
	SightingID  string    `gorm:"uniqueIndex:ux_user_sighting,priority:2;not null"`
	AnimalKey   string    `gorm:"index:ix_user_animal,priority:2;not null"`
	ConfirmedAt time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}
