package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/metrics"
	"wildlife-challenge-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sighting is a confirmed animal identification.
// Repeats are ignored. Without a SightingID, a sighting is identified by its
// animal and ConfirmedAt; with neither, every delivery counts.
type Sighting struct {
	UserID      string    `json:"user_id"`
	AnimalName  string    `json:"animal_name"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	SightingID  string    `json:"sighting_id,omitempty"`
}

// ChallengeTransition reports how one section moved in response to a sighting.
type ChallengeTransition struct {
	Kind          models.ChallengeKind `json:"kind"`
	AnimalName    string               `json:"animal_name"`
	ProgressCount int                  `json:"progress_count"`
	RequiredCount int                  `json:"required_count"`
	JustCompleted bool                 `json:"just_completed"`
	XPAwarded     int64                `json:"xp_awarded"`
}

// ProgressLedger is the user-record collaborator the tracker writes through.
type ProgressLedger interface {
	XPAwarder
	IncrementCounter(tx *gorm.DB, externalUserID, column string) error
}

// BadgeChecker re-evaluates badges once progress is committed.
type BadgeChecker interface {
	CheckBadges(ctx context.Context, externalUserID string)
}

// ProgressTracker applies confirmed sightings to the user's live challenge
// sections. Every write for one sighting happens in a single transaction.
type ProgressTracker struct {
	DB        *gorm.DB
	ledger    ProgressLedger
	badges    BadgeChecker
	publisher ChallengeEventPublisher

	now     func() time.Time
	metrics *metrics.Manager
	log     *logger.Logger
}

func NewProgressTracker(db *gorm.DB, ledger ProgressLedger, opts ...ProgressTrackerOption) *ProgressTracker {
	t := &ProgressTracker{
		DB:        db,
		ledger:    ledger,
		publisher: NewNoopPublisher(),
		now:       time.Now,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnSightingConfirmed bumps every matching task of the user's live, unfinished
// sections by one (never beyond its required count) and completes a section
// whose tasks are all done, awarding its XP once.
func (t *ProgressTracker) OnSightingConfirmed(ctx context.Context, sighting Sighting) ([]ChallengeTransition, error) {
	if strings.TrimSpace(sighting.UserID) == "" {
		return nil, fmt.Errorf("%w: no user id", ErrInvalidSighting)
	}
	key := animalKey(sighting.AnimalName)
	if key == "" {
		return nil, fmt.Errorf("%w: no animal name", ErrInvalidSighting)
	}
	sighting.SightingID = ledgerKey(sighting, key)
	if sighting.ConfirmedAt.IsZero() {
		sighting.ConfirmedAt = t.now()
	}
	now := t.now().UTC()

	var (
		transitions []ChallengeTransition
		duplicate   bool
		increments  int
	)
	err := t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "sighting_id"}},
			DoNothing: true,
		}).Create(&models.ProcessedSighting{
			ID:          uuid.NewString(),
			UserID:      sighting.UserID,
			SightingID:  sighting.SightingID,
			AnimalKey:   key,
			ConfirmedAt: sighting.ConfirmedAt.UTC(),
		})
		if res.Error != nil && !errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("recording sighting: %w", res.Error)
		}
		if res.Error != nil || res.RowsAffected == 0 {
			duplicate = true
			return nil
		}

		if err := t.ledger.IncrementCounter(tx, sighting.UserID, "total_sightings"); err != nil {
			return err
		}

		var sections []models.ChallengeSection
		err := tx.Where("user_id = ? AND completed = ? AND expires_at > ?", sighting.UserID, false, now).
			Order("kind ASC").
			Find(&sections).Error
		if err != nil {
			return fmt.Errorf("loading live sections: %w", err)
		}

		for i := range sections {
			tr, bumped, changed, err := t.applyToSection(tx, &sections[i], sighting, key, now)
			if err != nil {
				return err
			}
			if bumped {
				increments++
			}
			if changed {
				transitions = append(transitions, tr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if duplicate {
		t.metrics.DuplicateSighting()
		t.log.Info("[PROGRESS] sighting already processed", "user_id", sighting.UserID, "sighting_id", sighting.SightingID)
		return nil, nil
	}

	t.metrics.ProgressIncremented(increments)
	for _, tr := range transitions {
		if tr.JustCompleted {
			t.metrics.ChallengeCompleted(string(tr.Kind))
		}
		ev := ChallengeEvent{
			UserID:     sighting.UserID,
			Kind:       tr.Kind,
			AnimalName: tr.AnimalName,
			Completed:  tr.JustCompleted,
			XPAwarded:  tr.XPAwarded,
			At:         sighting.ConfirmedAt,
		}
		if err := t.publisher.Publish(ctx, ev); err != nil {
			t.log.Warn("[PROGRESS] publishing challenge event failed", "user_id", sighting.UserID, "error", err)
		}
	}
	if t.badges != nil {
		t.badges.CheckBadges(ctx, sighting.UserID)
	}
	return transitions, nil
}

// applyToSection locks the section row, runs the clamped increment and then
// completes the section once no task is outstanding. The completion check
// also runs when the increment was a no-op, so a section whose tasks are all
// done but was never marked completed is settled by the next sighting.
// bumped reports a task increment, changed whether a transition happened.
func (t *ProgressTracker) applyToSection(tx *gorm.DB, sec *models.ChallengeSection, sighting Sighting, key string, now time.Time) (tr ChallengeTransition, bumped, changed bool, err error) {
	var locked models.ChallengeSection
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND generation = ? AND completed = ? AND expires_at > ?", sec.ID, sec.Generation, false, now).
		First(&locked).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Replaced, completed or expired since it was listed.
		return tr, false, false, nil
	}
	if err != nil {
		return tr, false, false, fmt.Errorf("locking %s section: %w", sec.Kind, err)
	}

	res := tx.Model(&models.ChallengeTask{}).
		Where("section_id = ? AND animal_key = ? AND progress_count < required_count", locked.ID, key).
		UpdateColumn("progress_count", gorm.Expr("progress_count + 1"))
	if res.Error != nil {
		return tr, false, false, fmt.Errorf("incrementing %s task: %w", sec.Kind, res.Error)
	}
	bumped = res.RowsAffected > 0

	tr = ChallengeTransition{Kind: locked.Kind, AnimalName: strings.TrimSpace(sighting.AnimalName)}
	var task models.ChallengeTask
	err = tx.Where("section_id = ? AND animal_key = ?", locked.ID, key).First(&task).Error
	switch {
	case err == nil:
		tr.AnimalName = task.AnimalName
		tr.ProgressCount = task.ProgressCount
		tr.RequiredCount = task.RequiredCount
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return tr, bumped, bumped, err
	}

	var total, remaining int64
	if err := tx.Model(&models.ChallengeTask{}).Where("section_id = ?", locked.ID).Count(&total).Error; err != nil {
		return tr, bumped, bumped, err
	}
	err = tx.Model(&models.ChallengeTask{}).
		Where("section_id = ? AND progress_count < required_count", locked.ID).
		Count(&remaining).Error
	if err != nil {
		return tr, bumped, bumped, err
	}
	if total == 0 || remaining > 0 {
		return tr, bumped, bumped, nil
	}

	done := tx.Model(&models.ChallengeSection{}).
		Where("id = ? AND generation = ? AND completed = ?", locked.ID, locked.Generation, false).
		Updates(map[string]interface{}{
			"completed":    true,
			"completed_at": sighting.ConfirmedAt.UTC(),
			"xp_awarded":   gorm.Expr("xp_potential"),
		})
	if done.Error != nil {
		return tr, bumped, bumped, fmt.Errorf("completing %s section: %w", sec.Kind, done.Error)
	}
	if done.RowsAffected == 0 {
		return tr, bumped, bumped, nil
	}

	reason := fmt.Sprintf("%s challenge completed", locked.Kind)
	if _, err := t.ledger.AwardXP(tx, sighting.UserID, locked.XPPotential, reason); err != nil {
		return tr, bumped, true, fmt.Errorf("awarding XP: %w", err)
	}
	counter := "daily_completed"
	if locked.Kind == models.ChallengeWeekly {
		counter = "weekly_completed"
	}
	if err := t.ledger.IncrementCounter(tx, sighting.UserID, counter); err != nil {
		return tr, bumped, true, err
	}

	tr.JustCompleted = true
	tr.XPAwarded = locked.XPPotential
	t.log.Info("[PROGRESS] 🏆 section completed", "user_id", sighting.UserID, "kind", locked.Kind, "xp", locked.XPPotential)
	return tr, bumped, true, nil
}

// ledgerKey identifies a sighting in the processed-sighting ledger. Callers
// that send no id are keyed on the animal and confirmation time, so an exact
// retry is recognised; with no time either, nothing identifies a retry.
func ledgerKey(s Sighting, animal string) string {
	if id := strings.TrimSpace(s.SightingID); id != "" {
		return id
	}
	if !s.ConfirmedAt.IsZero() {
		return animal + "@" + s.ConfirmedAt.UTC().Format(time.RFC3339Nano)
	}
	return uuid.NewString()
}

// PruneLedger drops processed sightings older than cutoff and returns how many
// were removed.
func (t *ProgressTracker) PruneLedger(ctx context.Context, cutoff time.Time) (int64, error) {
	res := t.DB.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&models.ProcessedSighting{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning sighting ledger: %w", res.Error)
	}
	return res.RowsAffected, nil
}
