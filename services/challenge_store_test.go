package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"wildlife-challenge-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Monday 2026-10-19 10:00 UTC
var mondayMorning = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

type challengeFixture struct {
	db        *gorm.DB
	gen       *fakeGenerator
	manifests *ManifestStore
	store     *UserChallengeStore
	clock     *testClock
}

func newChallengeFixture(t *testing.T) *challengeFixture {
	t.Helper()
	db := setupTestDB(t)
	gen := &fakeGenerator{entries: austinAnimals}
	manifests := NewManifestStore(db, austinCatalog(), gen)
	clock := &testClock{now: mondayMorning}
	store := NewUserChallengeStore(db, manifests, NewChallengeSampler(DefaultSamplerPolicy()),
		WithClock(clock.Now), WithSeed(1))
	return &challengeFixture{db: db, gen: gen, manifests: manifests, store: store, clock: clock}
}

func sectionJSON(t *testing.T, s *models.ChallengeSection) string {
	t.Helper()
	require.NotNil(t, s)
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return string(raw)
}

func TestGetOrRefresh_CreatesBothSections(t *testing.T) {
	f := newChallengeFixture(t)
	region := austinRegion(t)

	uc, err := f.store.GetOrRefresh(context.Background(), "user-1", region, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, region.Key, uc.RegionKey)
	assert.NotEmpty(t, uc.RegionID)
	require.Len(t, uc.Sections, 2)

	daily := uc.Section(models.ChallengeDaily)
	weekly := uc.Section(models.ChallengeWeekly)
	require.NotNil(t, daily)
	require.NotNil(t, weekly)
	assert.Len(t, daily.Tasks, 3)
	assert.Len(t, weekly.Tasks, 6)

	for _, sec := range []*models.ChallengeSection{daily, weekly} {
		assert.False(t, sec.Completed)
		assert.Nil(t, sec.CompletedAt)
		assert.Zero(t, sec.XPAwarded)
		assert.Positive(t, sec.XPPotential)
		assert.Equal(t, int64(1), sec.Generation)

		drawn := make([]SampledTask, 0, len(sec.Tasks))
		for i, task := range sec.Tasks {
			assert.Equal(t, i, task.Position)
			assert.Zero(t, task.ProgressCount)
			drawn = append(drawn, SampledTask{AnimalName: task.AnimalName, Probability: task.Probability, RequiredCount: task.RequiredCount})
		}
		assert.Equal(t, f.store.XPPotential(sec.Kind, drawn), sec.XPPotential)
	}

	assert.True(t, daily.ExpiresAt.Equal(time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)))
	assert.True(t, weekly.StartsAt.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)))
	assert.True(t, weekly.ExpiresAt.Equal(time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC)))
}

func TestGetOrRefresh_LiveSectionsUntouched(t *testing.T) {
	f := newChallengeFixture(t)
	region := austinRegion(t)
	ctx := context.Background()

	first, err := f.store.GetOrRefresh(ctx, "user-1", region, time.UTC)
	require.NoError(t, err)

	f.clock.Advance(6 * time.Hour)
	second, err := f.store.GetOrRefresh(ctx, "user-1", region, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, sectionJSON(t, first.Section(models.ChallengeDaily)), sectionJSON(t, second.Section(models.ChallengeDaily)))
	assert.Equal(t, sectionJSON(t, first.Section(models.ChallengeWeekly)), sectionJSON(t, second.Section(models.ChallengeWeekly)))
	assert.Equal(t, int32(1), f.gen.calls.Load())
}

func TestGetOrRefresh_ExpiredDailyReplacedWeeklyUnchanged(t *testing.T) {
	f := newChallengeFixture(t)
	region := austinRegion(t)
	ctx := context.Background()

	uc, err := f.store.GetOrRefresh(ctx, "user-1", region, time.UTC)
	require.NoError(t, err)
	daily := uc.Section(models.ChallengeDaily)

	// Progress made yesterday is discarded with the expired section.
	require.NoError(t, f.db.Model(&models.ChallengeTask{}).
		Where("section_id = ?", daily.ID).
		Update("progress_count", 1).Error)
	reloaded, err := f.store.load(ctx, "user-1", region.Key)
	require.NoError(t, err)
	weeklyBefore := sectionJSON(t, reloaded.Section(models.ChallengeWeekly))

	f.clock.Advance(24 * time.Hour)
	refreshed, err := f.store.GetOrRefresh(ctx, "user-1", region, time.UTC)
	require.NoError(t, err)

	newDaily := refreshed.Section(models.ChallengeDaily)
	require.NotNil(t, newDaily)
	assert.Equal(t, daily.ID, newDaily.ID)
	assert.Equal(t, int64(2), newDaily.Generation)
	assert.True(t, newDaily.ExpiresAt.After(f.clock.Now()))
	assert.False(t, newDaily.Completed)
	assert.Zero(t, newDaily.XPAwarded)
	require.Len(t, newDaily.Tasks, 3)
	for _, task := range newDaily.Tasks {
		assert.Zero(t, task.ProgressCount)
	}

	assert.Equal(t, weeklyBefore, sectionJSON(t, refreshed.Section(models.ChallengeWeekly)))
}

func TestRefreshSection_StaleGenerationLosesRace(t *testing.T) {
	f := newChallengeFixture(t)
	region := austinRegion(t)
	ctx := context.Background()

	uc, err := f.store.GetOrRefresh(ctx, "user-1", region, time.UTC)
	require.NoError(t, err)
	stale := *uc.Section(models.ChallengeDaily)
	manifest, err := f.manifests.Get(ctx, region.Key)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	now := f.clock.Now()

	// Two devices read the same expired section; exactly one replacement wins.
	require.NoError(t, f.store.refreshSection(ctx, uc, &stale, models.ChallengeDaily, manifest, now, time.UTC))
	err = f.store.refreshSection(ctx, uc, &stale, models.ChallengeDaily, manifest, now, time.UTC)
	assert.ErrorIs(t, err, errSectionRaced)

	var sec models.ChallengeSection
	require.NoError(t, f.db.Preload("Tasks").First(&sec, "id = ?", stale.ID).Error)
	assert.Equal(t, int64(2), sec.Generation)
	assert.Len(t, sec.Tasks, 3, "loser must not leave extra tasks behind")
}

func TestRefreshSection_MissingSectionInsertedOnce(t *testing.T) {
	f := newChallengeFixture(t)
	region := austinRegion(t)
	ctx := context.Background()

	manifest, err := f.manifests.GetOrCreate(ctx, region)
	require.NoError(t, err)
	uc, err := f.store.create(ctx, "user-1", region, manifest)
	require.NoError(t, err)
	require.Empty(t, uc.Sections)

	now := f.clock.Now()
	require.NoError(t, f.store.refreshSection(ctx, uc, nil, models.ChallengeWeekly, manifest, now, time.UTC))
	assert.ErrorIs(t, f.store.refreshSection(ctx, uc, nil, models.ChallengeWeekly, manifest, now, time.UTC), errSectionRaced)

	var n int64
	require.NoError(t, f.db.Model(&models.ChallengeTask{}).Count(&n).Error)
	assert.Equal(t, int64(6), n)
}

func TestGetOrRefresh_ConcurrentRequestsAgree(t *testing.T) {
	f := newChallengeFixture(t)
	region := austinRegion(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	results := make([]*models.UserChallenge, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.store.GetOrRefresh(ctx, "user-1", region, time.UTC)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
		assert.Equal(t,
			sectionJSON(t, results[0].Section(models.ChallengeDaily)),
			sectionJSON(t, results[i].Section(models.ChallengeDaily)))
	}

	var sections int64
	require.NoError(t, f.db.Model(&models.ChallengeSection{}).Count(&sections).Error)
	assert.Equal(t, int64(2), sections)
}

func TestGetOrRefresh_GenerationFailureStoresNothing(t *testing.T) {
	f := newChallengeFixture(t)
	f.gen.err = errors.New("timeout talking to model")

	_, err := f.store.GetOrRefresh(context.Background(), "user-1", austinRegion(t), time.UTC)
	require.ErrorIs(t, err, ErrManifestGenerationFailed)

	var n int64
	require.NoError(t, f.db.Model(&models.UserChallenge{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestGetOrRefresh_ExcludesMasteredAnimals(t *testing.T) {
	db := setupTestDB(t)
	gen := &fakeGenerator{entries: austinAnimals}
	policy := DefaultSamplerPolicy()
	policy.ExcludeMastered = true
	store := NewUserChallengeStore(db, NewManifestStore(db, austinCatalog(), gen), NewChallengeSampler(policy),
		WithClock(func() time.Time { return mondayMorning }), WithSeed(3))

	for i, a := range austinAnimals[:7] {
		require.NoError(t, db.Create(&models.ProcessedSighting{
			ID:          "ps-" + a.Name,
			UserID:      "user-1",
			SightingID:  string(rune('a' + i)),
			AnimalKey:   animalKey(a.Name),
			ConfirmedAt: mondayMorning,
		}).Error)
	}

	uc, err := store.GetOrRefresh(context.Background(), "user-1", austinRegion(t), time.UTC)
	require.NoError(t, err)
	weekly := uc.Section(models.ChallengeWeekly)
	require.Len(t, weekly.Tasks, 1)
	assert.Equal(t, austinAnimals[7].Name, weekly.Tasks[0].AnimalName)
}

func TestGetActiveOnly(t *testing.T) {
	f := newChallengeFixture(t)
	region := austinRegion(t)
	ctx := context.Background()

	none, err := f.store.GetActiveOnly(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = f.store.GetOrRefresh(ctx, "user-1", region, time.UTC)
	require.NoError(t, err)

	active, err := f.store.GetActiveOnly(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Len(t, active.Sections, 2)

	// After the daily expires only the weekly is reported, and nothing is resampled.
	f.clock.Advance(36 * time.Hour)
	active, err = f.store.GetActiveOnly(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Len(t, active.Sections, 1)
	assert.Equal(t, models.ChallengeWeekly, active.Sections[0].Kind)
	assert.Len(t, active.Sections[0].Tasks, 6)

	f.clock.Advance(7 * 24 * time.Hour)
	active, err = f.store.GetActiveOnly(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	var maxGen int64
	require.NoError(t, f.db.Model(&models.ChallengeSection{}).Select("MAX(generation)").Scan(&maxGen).Error)
	assert.Equal(t, int64(1), maxGen)
	assert.Equal(t, int32(1), f.gen.calls.Load())
}

func TestPeriodBounds_LocalTimezone(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	// Tuesday 22:00 in Chicago, already Wednesday in UTC.
	now := time.Date(2026, 10, 21, 3, 0, 0, 0, time.UTC)

	start, end := PeriodBounds(models.ChallengeDaily, now, chicago)
	assert.Equal(t, time.Date(2026, 10, 20, 5, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 10, 21, 5, 0, 0, 0, time.UTC), end)

	start, end = PeriodBounds(models.ChallengeWeekly, now, chicago)
	assert.Equal(t, time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 10, 26, 5, 0, 0, 0, time.UTC), end)
}

func TestPeriodBounds_SundayBelongsToPreviousWeek(t *testing.T) {
	sunday := time.Date(2026, 10, 25, 23, 59, 0, 0, time.UTC)
	start, end := PeriodBounds(models.ChallengeWeekly, sunday, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC), end)
}

func TestXPPotential(t *testing.T) {
	store := NewUserChallengeStore(nil, nil, NewChallengeSampler(DefaultSamplerPolicy()))
	tasks := []SampledTask{
		{AnimalName: "Golden-cheeked Warbler", Probability: 5, RequiredCount: 1},
		{AnimalName: "Northern Cardinal", Probability: 90, RequiredCount: 3},
		{AnimalName: "Eastern Gray Squirrel", Probability: 99, RequiredCount: 3},
	}

	// 95*1 + 10*3 + max(1, 5)*3
	assert.Equal(t, int64(140), store.XPPotential(models.ChallengeDaily, tasks))
	assert.Equal(t, int64(280), store.XPPotential(models.ChallengeWeekly, tasks))
}
