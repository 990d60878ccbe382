package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/metrics"
	"wildlife-challenge-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LevelConfig: XP needed for *next* level (e.g., level 1 → 2 needs BaseXPPerLevel * 1^1.2)
const BaseXPPerLevel = 100

// xpForNextLevel returns XP required to reach level+1 from current level
// e.g., xpForNextLevel(1) = XP to go from L1 → L2
func xpForNextLevel(currentLevel int) int64 {
	if currentLevel < 1 {
		currentLevel = 1
	}
	// L_n = floor(BaseXPPerLevel * n^1.2)
	return int64(float64(BaseXPPerLevel) * math.Pow(float64(currentLevel), 1.2))
}

// levelForXP walks the level curve until the cumulative requirement exceeds totalXP.
func levelForXP(totalXP int64) int {
	level := 1
	need := xpForNextLevel(level)
	for totalXP >= need {
		level++
		need += xpForNextLevel(level)
	}
	return level
}

// RankThresholds: levels required before rank-up
var RankThresholds = map[int]int{ // rank → min level
	1: 1,  // Hatchling (start)
	2: 5,  // Tracker
	3: 15, // Ranger
	4: 30, // Naturalist
	5: 60, // Warden
}

func determineRank(level int) int {
	for rank := 5; rank >= 1; rank-- {
		if level >= RankThresholds[rank] {
			return rank
		}
	}
	return 1
}

// RankName is the display name of a rank.
func RankName(rank int) string {
	switch rank {
	case 2:
		return "Tracker"
	case 3:
		return "Ranger"
	case 4:
		return "Naturalist"
	case 5:
		return "Warden"
	default:
		return "Hatchling"
	}
}

// progressCounters are the only columns IncrementCounter may touch.
var progressCounters = map[string]bool{
	"total_sightings":  true,
	"daily_completed":  true,
	"weekly_completed": true,
}

// XPAwarder commits XP to the user ledger inside the caller's transaction.
// It trusts its caller to invoke it once per completion.
type XPAwarder interface {
	AwardXP(tx *gorm.DB, externalUserID string, xp int64, reason string) (*models.UserProgress, error)
}

type ProgressionService struct {
	DB      *gorm.DB
	Badges  *BadgeService
	metrics *metrics.Manager
	log     *logger.Logger
}

func NewProgressionService(db *gorm.DB, badges *BadgeService, m *metrics.Manager, log *logger.Logger) *ProgressionService {
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressionService{DB: db, Badges: badges, metrics: m, log: log}
}

// EnsureProgressRecord ensures a UserProgress row exists (idempotent)
func (s *ProgressionService) EnsureProgressRecord(tx *gorm.DB, externalUserID string) error {
	prog := models.UserProgress{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Level:          1,
		Rank:           1,
	}
	return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_user_id"}}, DoNothing: true}).
		Create(&prog).Error
}

// GetProgress returns the user's progression, creating an empty record on first access.
func (s *ProgressionService) GetProgress(ctx context.Context, externalUserID string) (*models.UserProgress, error) {
	db := s.DB.WithContext(ctx)
	if err := s.EnsureProgressRecord(db, externalUserID); err != nil {
		return nil, fmt.Errorf("ensuring progress record: %w", err)
	}
	var prog models.UserProgress
	if err := db.Where("external_user_id = ?", externalUserID).First(&prog).Error; err != nil {
		return nil, fmt.Errorf("loading progress for %s: %w", externalUserID, err)
	}
	return &prog, nil
}

// AwardXP atomically adds XP and recomputes level and rank, returning the updated progress.
func (s *ProgressionService) AwardXP(tx *gorm.DB, externalUserID string, xp int64, reason string) (*models.UserProgress, error) {
	if xp < 0 {
		return nil, fmt.Errorf("negative XP award %d for %s", xp, externalUserID)
	}
	if err := s.EnsureProgressRecord(tx, externalUserID); err != nil {
		return nil, err
	}

	// Increment in the store so concurrent awards are never lost.
	if err := tx.Model(&models.UserProgress{}).
		Where("external_user_id = ?", externalUserID).
		UpdateColumn("total_xp", gorm.Expr("total_xp + ?", xp)).Error; err != nil {
		return nil, err
	}

	var prog models.UserProgress
	if err := tx.Where("external_user_id = ?", externalUserID).First(&prog).Error; err != nil {
		return nil, fmt.Errorf("progress record not found for %s: %w", externalUserID, err)
	}

	updates := map[string]interface{}{}
	now := time.Now()
	if level := levelForXP(prog.TotalXP); level > prog.Level {
		prog.Level = level
		prog.LastLevelUpAt = &now
		updates["level"] = level
		updates["last_level_up_at"] = now
	}
	if rank := determineRank(prog.Level); rank > prog.Rank {
		prog.Rank = rank
		prog.LastRankUpAt = &now
		updates["rank"] = rank
		updates["last_rank_up_at"] = now
	}
	if len(updates) > 0 {
		if err := tx.Model(&models.UserProgress{}).
			Where("external_user_id = ?", externalUserID).
			Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	s.metrics.XPAwarded(xp)
	s.log.Info("[PROGRESSION] 🎮 XP awarded",
		"user_id", externalUserID, "xp", xp, "total_xp", prog.TotalXP,
		"level", prog.Level, "rank", prog.Rank, "reason", reason)
	return &prog, nil
}

// IncrementCounter bumps one of the activity counters by one.
func (s *ProgressionService) IncrementCounter(tx *gorm.DB, externalUserID, column string) error {
	if !progressCounters[column] {
		return fmt.Errorf("unknown progress counter %q", column)
	}
	if err := s.EnsureProgressRecord(tx, externalUserID); err != nil {
		return err
	}
	return tx.Model(&models.UserProgress{}).
		Where("external_user_id = ?", externalUserID).
		UpdateColumn(column, gorm.Expr(column+" + 1")).Error
}

// Grant awards XP outside any challenge (admin grants) and then checks badges.
func (s *ProgressionService) Grant(ctx context.Context, externalUserID string, xp int64, reason string) (*models.UserProgress, error) {
	if xp <= 0 {
		return nil, errors.New("xp must be positive")
	}
	var updated *models.UserProgress
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = s.AwardXP(tx, externalUserID, xp, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.CheckBadges(ctx, externalUserID)
	return updated, nil
}

// CheckBadges runs badge triggers after a committed progress change.
// Failures are logged, never returned: badges are derived state.
func (s *ProgressionService) CheckBadges(ctx context.Context, externalUserID string) {
	if s.Badges == nil {
		return
	}
	if _, err := s.Badges.AutoAwardBadges(ctx, externalUserID); err != nil {
		s.log.Warn("[PROGRESSION] badge check failed", "user_id", externalUserID, "error", err)
	}
}
