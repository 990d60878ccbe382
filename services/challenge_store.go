package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/metrics"
	"wildlife-challenge-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MinXPPerUnit keeps the most common animals worth something.
const MinXPPerUnit = 5

// errSectionRaced signals that another writer replaced the section first.
var errSectionRaced = errors.New("section refreshed concurrently")

// UserChallengeStore keeps one UserChallenge per (user, region) and refreshes
// its daily and weekly sections independently once they expire.
type UserChallengeStore struct {
	DB        *gorm.DB
	manifests *ManifestStore
	sampler   *ChallengeSampler

	dailyWeight  float64
	weeklyWeight float64

	now  func() time.Time
	seed func(userID string, kind models.ChallengeKind) *rand.Rand

	metrics *metrics.Manager
	log     *logger.Logger
}

func NewUserChallengeStore(db *gorm.DB, manifests *ManifestStore, sampler *ChallengeSampler, opts ...ChallengeStoreOption) *UserChallengeStore {
	s := &UserChallengeStore{
		DB:           db,
		manifests:    manifests,
		sampler:      sampler,
		dailyWeight:  1,
		weeklyWeight: 2,
		now:          time.Now,
		log:          logger.Nop(),
	}
	s.seed = s.timeSeeded
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timeSeeded derives the draw seed from the clock so successive periods differ.
func (s *UserChallengeStore) timeSeeded(userID string, kind models.ChallengeKind) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte(kind))
	return rand.New(rand.NewPCG(uint64(s.now().UnixNano()), h.Sum64()))
}

// GetOrRefresh returns the user's challenge for region, creating it on first
// use and resampling every section that is missing or expired. Live sections
// are returned as stored. loc resolves the user's local day and week.
func (s *UserChallengeStore) GetOrRefresh(ctx context.Context, userID string, region Region, loc *time.Location) (*models.UserChallenge, error) {
	if loc == nil {
		loc = time.UTC
	}
	now := s.now()

	uc, err := s.load(ctx, userID, region.Key)
	if err != nil {
		return nil, err
	}

	var manifest *models.RegionManifest
	needManifest := func() (*models.RegionManifest, error) {
		if manifest != nil {
			return manifest, nil
		}
		m, err := s.manifests.GetOrCreate(ctx, region)
		if err != nil {
			return nil, err
		}
		manifest = m
		return m, nil
	}

	if uc == nil {
		m, err := needManifest()
		if err != nil {
			return nil, err
		}
		if uc, err = s.create(ctx, userID, region, m); err != nil {
			return nil, err
		}
	}

	refreshed := false
	for _, kind := range models.ChallengeKinds {
		sec := uc.Section(kind)
		if sec != nil && sec.Live(now) {
			continue
		}
		m, err := needManifest()
		if err != nil {
			return nil, err
		}
		err = s.refreshSection(ctx, uc, sec, kind, m, now, loc)
		if errors.Is(err, errSectionRaced) {
			s.log.Info("[CHALLENGE] section refreshed by a concurrent request", "user_id", userID, "kind", kind)
		} else if err != nil {
			return nil, err
		}
		refreshed = true
	}

	if !refreshed {
		return uc, nil
	}
	uc, err = s.load(ctx, userID, region.Key)
	if err != nil {
		return nil, err
	}
	if uc == nil {
		return nil, fmt.Errorf("challenge for %s in %s vanished after refresh", userID, region.Key)
	}
	return uc, nil
}

// GetActiveOnly returns the user's most recently refreshed challenge that still
// has a live section, with only its live sections loaded. It never samples or
// writes; nil means the user has nothing active.
func (s *UserChallengeStore) GetActiveOnly(ctx context.Context, userID string) (*models.UserChallenge, error) {
	now := s.now().UTC()
	db := s.DB.WithContext(ctx)

	live := db.Model(&models.ChallengeSection{}).
		Select("user_challenge_id").
		Where("user_id = ? AND expires_at > ?", userID, now)

	var uc models.UserChallenge
	err := db.
		Preload("Sections", func(tx *gorm.DB) *gorm.DB { return tx.Where("expires_at > ?", now).Order("kind ASC") }).
		Preload("Sections.Tasks", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("user_id = ? AND id IN (?)", userID, live).
		Order("updated_at DESC").
		First(&uc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active challenge for %s: %w", userID, err)
	}
	return &uc, nil
}

// XPPotential prices a drawn section: rarer animals and repeated sightings are
// worth more, weekly sections are weighted up.
func (s *UserChallengeStore) XPPotential(kind models.ChallengeKind, tasks []SampledTask) int64 {
	weight := s.dailyWeight
	if kind == models.ChallengeWeekly {
		weight = s.weeklyWeight
	}
	var total float64
	for _, t := range tasks {
		perUnit := math.Max(100-t.Probability, MinXPPerUnit)
		total += perUnit * weight * float64(t.RequiredCount)
	}
	return int64(math.Round(total))
}

func (s *UserChallengeStore) load(ctx context.Context, userID, regionKey string) (*models.UserChallenge, error) {
	var uc models.UserChallenge
	err := s.DB.WithContext(ctx).
		Preload("Sections", func(tx *gorm.DB) *gorm.DB { return tx.Order("kind ASC") }).
		Preload("Sections.Tasks", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("user_id = ? AND region_key = ?", userID, regionKey).
		First(&uc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading challenge for %s in %s: %w", userID, regionKey, err)
	}
	return &uc, nil
}

// create inserts the empty parent record. A concurrent creator may win, in
// which case its row is used.
func (s *UserChallengeStore) create(ctx context.Context, userID string, region Region, m *models.RegionManifest) (*models.UserChallenge, error) {
	uc := &models.UserChallenge{
		ID:        uuid.NewString(),
		UserID:    userID,
		RegionKey: region.Key,
		RegionID:  m.ID,
		Location:  m.Location,
	}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}, {Name: "region_key"}}, DoNothing: true}).
		Create(uc).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("creating challenge for %s in %s: %w", userID, region.Key, err)
	}
	stored, err := s.load(ctx, userID, region.Key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("challenge for %s in %s missing after create", userID, region.Key)
	}
	return stored, nil
}

// refreshSection samples a new section and swaps it in atomically. An
// existing section is replaced only if its generation is still the one we
// read; otherwise errSectionRaced is returned and nothing is written.
func (s *UserChallengeStore) refreshSection(ctx context.Context, uc *models.UserChallenge, prev *models.ChallengeSection,
	kind models.ChallengeKind, m *models.RegionManifest, now time.Time, loc *time.Location) error {

	mastered, err := s.masteredAnimals(ctx, uc.UserID)
	if err != nil {
		return err
	}
	drawn, err := s.sampler.Sample(m.AnimalManifest, kind, mastered, s.seed(uc.UserID, kind))
	if err != nil {
		return err
	}
	startsAt, expiresAt := PeriodBounds(kind, now, loc)
	xp := s.XPPotential(kind, drawn)

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sectionID string
		if prev == nil {
			sec := models.ChallengeSection{
				ID:              uuid.NewString(),
				UserChallengeID: uc.ID,
				UserID:          uc.UserID,
				Kind:            kind,
				Generation:      1,
				StartsAt:        startsAt,
				ExpiresAt:       expiresAt,
				XPPotential:     xp,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_challenge_id"}, {Name: "kind"}},
				DoNothing: true,
			}).Create(&sec)
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return errSectionRaced
			}
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errSectionRaced
			}
			sectionID = sec.ID
		} else {
			res := tx.Model(&models.ChallengeSection{}).
				Where("id = ? AND generation = ?", prev.ID, prev.Generation).
				Updates(map[string]interface{}{
					"generation":   gorm.Expr("generation + 1"),
					"starts_at":    startsAt,
					"expires_at":   expiresAt,
					"completed":    false,
					"completed_at": nil,
					"xp_potential": xp,
					"xp_awarded":   0,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errSectionRaced
			}
			sectionID = prev.ID
			if err := tx.Where("section_id = ?", sectionID).Delete(&models.ChallengeTask{}).Error; err != nil {
				return err
			}
		}

		if len(drawn) > 0 {
			tasks := make([]models.ChallengeTask, 0, len(drawn))
			for i, d := range drawn {
				tasks = append(tasks, models.ChallengeTask{
					ID:            uuid.NewString(),
					SectionID:     sectionID,
					Position:      i,
					AnimalName:    d.AnimalName,
					AnimalKey:     animalKey(d.AnimalName),
					Probability:   d.Probability,
					RequiredCount: d.RequiredCount,
				})
			}
			if err := tx.Create(&tasks).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.UserChallenge{}).
			Where("id = ?", uc.ID).
			Updates(map[string]interface{}{"region_id": m.ID, "location": m.Location}).Error
	})
	if err != nil {
		if errors.Is(err, errSectionRaced) {
			return err
		}
		return fmt.Errorf("refreshing %s section for %s: %w", kind, uc.UserID, err)
	}

	s.metrics.SectionRefreshed(string(kind))
	s.log.Info("[CHALLENGE] 🎯 section sampled", "user_id", uc.UserID, "region_key", uc.RegionKey,
		"kind", kind, "animals", len(drawn), "xp_potential", xp, "expires_at", expiresAt)
	return nil
}

// masteredAnimals lists the animal keys the user has confirmed before.
func (s *UserChallengeStore) masteredAnimals(ctx context.Context, userID string) (map[string]bool, error) {
	if !s.sampler.Policy().ExcludeMastered {
		return nil, nil
	}
	var keys []string
	err := s.DB.WithContext(ctx).Model(&models.ProcessedSighting{}).
		Where("user_id = ?", userID).
		Distinct("animal_key").
		Pluck("animal_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("loading mastered animals for %s: %w", userID, err)
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out, nil
}

// PeriodBounds returns the UTC start and expiry of the period containing now
// in loc: the local day for daily, the local Monday-based week for weekly.
func PeriodBounds(kind models.ChallengeKind, now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if kind == models.ChallengeWeekly {
		offset := (int(dayStart.Weekday()) + 6) % 7
		weekStart := dayStart.AddDate(0, 0, -offset)
		return weekStart.UTC(), weekStart.AddDate(0, 0, 7).UTC()
	}
	return dayStart.UTC(), dayStart.AddDate(0, 0, 1).UTC()
}
