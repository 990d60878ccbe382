package models

import (
	"time"
)

// ChallengeKind selects the daily or weekly section of a UserChallenge.
type ChallengeKind string

const (
	ChallengeDaily  ChallengeKind = "daily"
	ChallengeWeekly ChallengeKind = "weekly"
)

// ChallengeKinds lists the sections every UserChallenge carries, in display order.
var ChallengeKinds = []ChallengeKind{ChallengeDaily, ChallengeWeekly}

// UserChallenge is the current challenge state of one user in one region.
type UserChallenge struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"uniqueIndex:ux_user_region,priority:1;not null" json:"user_id"`
	RegionKey string    `gorm:"uniqueIndex:ux_user_region,priority:2;not null" json:"region_key"`
	RegionID  string    `gorm:"index;not null" json:"region_id"` // RegionManifest used for sampling
	Location  string    `json:"location"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Sections []ChallengeSection `gorm:"foreignKey:UserChallengeID;constraint:OnDelete:CASCADE" json:"-"`
}

// Section returns the section of the given kind, or nil when it was never sampled.
func (uc *UserChallenge) Section(kind ChallengeKind) *ChallengeSection {
	for i := range uc.Sections {
		if uc.Sections[i].Kind == kind {
			return &uc.Sections[i]
		}
	}
	return nil
}

// ChallengeSection is the daily or weekly half of a UserChallenge.
// Generation is bumped every time the section is replaced and guards
// concurrent refreshes (replace only if the generation is unchanged).
type ChallengeSection struct {
	ID              string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserChallengeID string        `gorm:"uniqueIndex:ux_challenge_kind,priority:1;not null" json:"-"`
	UserID          string        `gorm:"index;not null" json:"-"` // denormalized for progress lookups
	Kind            ChallengeKind `gorm:"uniqueIndex:ux_challenge_kind,priority:2;type:varchar(16);not null" json:"kind"`
	Generation      int64         `gorm:"not null;default:1" json:"generation"`
	StartsAt        time.Time     `json:"starts_at"`
	ExpiresAt       time.Time     `gorm:"index;not null" json:"expires_at"`
	Completed       bool          `gorm:"not null;default:false" json:"completed"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	XPPotential     int64         `gorm:"not null;default:0" json:"xp_potential"`
	XPAwarded       int64         `gorm:"not null;default:0" json:"xp_awarded"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`

	Tasks []ChallengeTask `gorm:"foreignKey:SectionID;constraint:OnDelete:CASCADE" json:"animals"`
}

// Live reports whether the section is still current at now.
func (s *ChallengeSection) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// ChallengeTask is one animal to sight RequiredCount times.
type ChallengeTask struct {
	ID            string  `gorm:"primaryKey;type:varchar(36)" json:"-"`
	SectionID     string  `gorm:"index;not null" json:"-"`
	Position      int     `gorm:"not null" json:"-"`
	AnimalName    string  `gorm:"not null" json:"animal_name"`
	AnimalKey     string  `gorm:"index;not null" json:"-"` // lower-cased AnimalName for matching
	Probability   float64 `json:"probability"`
	RequiredCount int     `gorm:"not null" json:"required_count"`
	ProgressCount int     `gorm:"not null;default:0" json:"progress_count"`
}
