package services

import (
	"context"
	"errors"
	"fmt"

	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BadgeService struct {
	DB  *gorm.DB
	log *logger.Logger
}

func NewBadgeService(db *gorm.DB, log *logger.Logger) *BadgeService {
	if log == nil {
		log = logger.Nop()
	}
	return &BadgeService{DB: db, log: log}
}

// SeedBadgeTypes upserts the predefined triggers by code.
func (s *BadgeService) SeedBadgeTypes(ctx context.Context) error {
	for _, trigger := range models.BadgeTriggers {
		bt := trigger
		bt.ID = uuid.NewString()
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "rarity", "threshold"}),
		}).Create(&bt).Error
		if err != nil {
			return fmt.Errorf("seeding badge %s: %w", trigger.Code, err)
		}
	}
	return nil
}

// AutoAwardBadges checks all badge triggers for a user after a progress update
// and returns the names of newly awarded badges.
func (s *BadgeService) AutoAwardBadges(ctx context.Context, externalUserID string) ([]string, error) {
	db := s.DB.WithContext(ctx)

	var prog models.UserProgress
	if err := db.Where("external_user_id = ?", externalUserID).First(&prog).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var types []models.BadgeType
	if err := db.Find(&types).Error; err != nil {
		return nil, err
	}

	var awarded []string
	for _, bt := range types {
		if !meetsThreshold(&prog, bt.Threshold) {
			continue
		}
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.UserBadge{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			BadgeTypeID:    bt.ID,
		})
		if res.Error != nil {
			return awarded, res.Error
		}
		if res.RowsAffected > 0 {
			awarded = append(awarded, bt.Name)
			s.log.Info("[BADGE] 🎖️ badge awarded", "badge", bt.Name, "user_id", externalUserID)
		}
	}
	return awarded, nil
}

// ListUserBadges returns the badges a user holds, newest first.
func (s *BadgeService) ListUserBadges(ctx context.Context, externalUserID string) ([]models.UserBadge, error) {
	var out []models.UserBadge
	err := s.DB.WithContext(ctx).
		Preload("BadgeType").
		Where("external_user_id = ?", externalUserID).
		Order("awarded_at DESC").
		Find(&out).Error
	return out, err
}

func meetsThreshold(prog *models.UserProgress, req map[string]int64) bool {
	if len(req) == 0 {
		return false
	}
	for key, required := range req {
		var have int64
		switch key {
		case "total_sightings":
			have = prog.TotalSightings
		case "daily_completed":
			have = prog.DailyCompleted
		case "weekly_completed":
			have = prog.WeeklyCompleted
		case "level":
			have = int64(prog.Level)
		case "rank":
			have = int64(prog.Rank)
		case "total_xp":
			have = prog.TotalXP
		default:
			return false
		}
		if have < required {
			return false
		}
	}
	return true
}
