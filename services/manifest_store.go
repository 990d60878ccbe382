package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/metrics"
	"wildlife-challenge-system/models"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManifestArchiver keeps a copy of a manifest that is about to be removed.
type ManifestArchiver interface {
	ArchiveManifest(ctx context.Context, m *models.RegionManifest) error
}

// ManifestStore is the get-or-create cache of region manifests.
//
// The unique index on region_key is the source of truth: concurrent creators
// in one process share a single generation through singleflight, and a writer
// that loses the insert race across processes re-reads the winner's row.
type ManifestStore struct {
	DB        *gorm.DB
	catalog   AnimalCatalog
	generator ManifestGenerator
	archiver  ManifestArchiver

	timeout  time.Duration
	cacheTTL time.Duration
	cache    *cache.Cache
	group    singleflight.Group

	metrics *metrics.Manager
	log     *logger.Logger
}

func NewManifestStore(db *gorm.DB, catalog AnimalCatalog, generator ManifestGenerator, opts ...ManifestStoreOption) *ManifestStore {
	s := &ManifestStore{
		DB:        db,
		catalog:   catalog,
		generator: generator,
		timeout:   45 * time.Second,
		cacheTTL:  2 * time.Minute,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.New(s.cacheTTL, 2*s.cacheTTL)
	return s
}

// GetOrCreate returns the manifest for region.Key, generating and persisting
// it on first use. A cache hit never calls the generator.
//
// Cached manifests are confirmed by id before use, so a manifest deleted or
// regenerated by another process (the admin CLI included) is never served.
func (s *ManifestStore) GetOrCreate(ctx context.Context, region Region) (*models.RegionManifest, error) {
	if m, ok := s.cached(region.Key); ok {
		if s.stillStored(ctx, m.ID) {
			s.metrics.ManifestCacheHit()
			return m, nil
		}
		s.cache.Delete(region.Key)
	}

	existing, err := s.find(ctx, region.Key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.metrics.ManifestCacheHit()
		s.cache.Set(region.Key, existing, cache.DefaultExpiration)
		return existing, nil
	}

	v, err, shared := s.group.Do(region.Key, func() (interface{}, error) {
		// Joined callers share this flight, so one caller going away must not
		// fail the rest. The generation timeout still bounds it.
		flightCtx := context.WithoutCancel(ctx)

		// Another flight may have finished between our read and joining the group.
		if m, err := s.find(flightCtx, region.Key); err != nil || m != nil {
			return m, err
		}
		return s.generateAndPersist(flightCtx, region)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debug("[MANIFEST] joined in-flight generation", "region_key", region.Key)
	}
	m := v.(*models.RegionManifest)
	s.cache.Set(region.Key, m, cache.DefaultExpiration)
	return m, nil
}

// Get returns the stored manifest or ErrManifestNotFound.
func (s *ManifestStore) Get(ctx context.Context, regionKey string) (*models.RegionManifest, error) {
	m, err := s.find(ctx, regionKey)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, regionKey)
	}
	return m, nil
}

// ListAll returns every stored manifest, newest first.
func (s *ManifestStore) ListAll(ctx context.Context) ([]models.RegionManifest, error) {
	var out []models.RegionManifest
	if err := s.DB.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	s.metrics.SetStoredManifests(int64(len(out)))
	return out, nil
}

// Count returns how many manifests are stored and updates the gauge.
func (s *ManifestStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.RegionManifest{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting manifests: %w", err)
	}
	s.metrics.SetStoredManifests(n)
	return n, nil
}

// Regenerate replaces the manifest of an existing region. The new manifest is
// generated before the old one is touched, so a generator failure leaves the
// region as it was.
func (s *ManifestStore) Regenerate(ctx context.Context, regionKey string) (*models.RegionManifest, error) {
	old, err := s.Get(ctx, regionKey)
	if err != nil {
		return nil, err
	}

	region := Region{Key: old.RegionKey, DisplayLocation: old.Location, CenterLat: old.CenterLat, CenterLon: old.CenterLon}
	fresh, err := s.generate(ctx, region)
	if err != nil {
		return nil, err
	}
	s.archive(ctx, old)

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("region_key = ?", regionKey).Delete(&models.RegionManifest{}).Error; err != nil {
			return err
		}
		return tx.Create(fresh).Error
	})
	if err != nil {
		return nil, fmt.Errorf("replacing manifest %s: %w", regionKey, err)
	}

	s.cache.Delete(regionKey)
	s.log.Info("[MANIFEST] 🔁 regenerated", "region_key", regionKey, "animals", len(fresh.AnimalManifest))
	return fresh, nil
}

// DeleteOne removes one region manifest. The next request for the region
// generates a new one.
func (s *ManifestStore) DeleteOne(ctx context.Context, regionKey string) error {
	m, err := s.Get(ctx, regionKey)
	if err != nil {
		return err
	}
	s.archive(ctx, m)

	if err := s.DB.WithContext(ctx).Where("region_key = ?", regionKey).Delete(&models.RegionManifest{}).Error; err != nil {
		return fmt.Errorf("deleting manifest %s: %w", regionKey, err)
	}
	s.cache.Delete(regionKey)
	s.log.Info("[MANIFEST] 🗑️ deleted", "region_key", regionKey)
	return nil
}

// DeleteAll clears every manifest and returns how many were removed.
func (s *ManifestStore) DeleteAll(ctx context.Context) (int64, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	for i := range all {
		s.archive(ctx, &all[i])
	}

	res := s.DB.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RegionManifest{})
	if res.Error != nil {
		return 0, fmt.Errorf("clearing manifests: %w", res.Error)
	}
	s.cache.Flush()
	s.metrics.SetStoredManifests(0)
	s.log.Info("[MANIFEST] 🗑️ cleared all manifests", "count", res.RowsAffected)
	return res.RowsAffected, nil
}

func (s *ManifestStore) cached(regionKey string) (*models.RegionManifest, bool) {
	v, ok := s.cache.Get(regionKey)
	if !ok {
		return nil, false
	}
	return v.(*models.RegionManifest), true
}

// stillStored reports whether the manifest row with id exists. Lookup errors
// count as "no", which sends the caller to the full read.
func (s *ManifestStore) stillStored(ctx context.Context, id string) bool {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.RegionManifest{}).Where("id = ?", id).Count(&n).Error
	return err == nil && n > 0
}

// find returns (nil, nil) when the region has no manifest.
func (s *ManifestStore) find(ctx context.Context, regionKey string) (*models.RegionManifest, error) {
	var m models.RegionManifest
	err := s.DB.WithContext(ctx).Where("region_key = ?", regionKey).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading manifest %s: %w", regionKey, err)
	}
	return &m, nil
}

func (s *ManifestStore) generateAndPersist(ctx context.Context, region Region) (*models.RegionManifest, error) {
	m, err := s.generate(ctx, region)
	if err != nil {
		return nil, err
	}

	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "region_key"}}, DoNothing: true}).
		Create(m)
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("persisting manifest %s: %w", region.Key, res.Error)
	}
	if res.Error != nil || res.RowsAffected == 0 {
		// Lost the race to another writer: theirs is the manifest.
		s.log.Info("[MANIFEST] concurrent creation detected, using stored manifest", "region_key", region.Key)
		winner, err := s.find(ctx, region.Key)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("manifest %s vanished after conflicting insert", region.Key)
		}
		return winner, nil
	}

	s.log.Info("[MANIFEST] ✅ created", "region_key", region.Key, "location", region.DisplayLocation,
		"animals", len(m.AnimalManifest))
	return m, nil
}

// generate asks the generator for a manifest and validates it against the
// catalog. It never writes.
func (s *ManifestStore) generate(ctx context.Context, region Region) (*models.RegionManifest, error) {
	names, err := s.catalog.ListAllAnimalNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		s.metrics.ManifestGenerated("failed", 0)
		return nil, fmt.Errorf("%w: animal catalog is empty", ErrManifestGenerationFailed)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	entries, err := s.generator.SuggestProbabilities(genCtx, region.DisplayLocation, names)
	took := time.Since(start)
	if err != nil {
		s.metrics.ManifestGenerated("failed", took)
		s.log.Error("[MANIFEST] ❌ generator failed", "region_key", region.Key, "took", took, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrManifestGenerationFailed, err)
	}

	clean, err := sanitizeManifest(entries, names)
	if err != nil {
		s.metrics.ManifestGenerated("malformed", took)
		s.log.Warn("[MANIFEST] generator returned unusable manifest", "region_key", region.Key, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrManifestGenerationFailed, err)
	}
	s.metrics.ManifestGenerated("ok", took)

	return &models.RegionManifest{
		ID:             uuid.NewString(),
		RegionKey:      region.Key,
		Location:       region.DisplayLocation,
		CenterLat:      region.CenterLat,
		CenterLon:      region.CenterLon,
		AnimalManifest: datatypes.JSONSlice[models.ManifestEntry](clean),
	}, nil
}

func (s *ManifestStore) archive(ctx context.Context, m *models.RegionManifest) {
	if s.archiver == nil || m == nil {
		return
	}
	if err := s.archiver.ArchiveManifest(ctx, m); err != nil {
		s.log.Warn("[MANIFEST] archive failed", "region_key", m.RegionKey, "error", err)
	}
}

// sanitizeManifest keeps entries naming known animals (using the catalog's
// spelling), drops duplicates, and orders by probability descending.
// Any probability outside [0, 100] makes the whole manifest malformed.
func sanitizeManifest(entries []models.ManifestEntry, catalog []string) ([]models.ManifestEntry, error) {
	if len(entries) == 0 {
		return nil, errors.New("manifest is empty")
	}

	known := make(map[string]string, len(catalog))
	for _, name := range catalog {
		known[animalKey(name)] = name
	}

	seen := make(map[string]bool, len(entries))
	out := make([]models.ManifestEntry, 0, len(entries))
	for _, e := range entries {
		if math.IsNaN(e.Probability) || e.Probability < 0 || e.Probability > 100 {
			return nil, fmt.Errorf("probability %v for %q outside [0, 100]", e.Probability, e.Name)
		}
		key := animalKey(e.Name)
		canonical, ok := known[key]
		if !ok || seen[key] || strings.TrimSpace(e.Name) == "" {
			continue
		}
		seen[key] = true
		out = append(out, models.ManifestEntry{Name: canonical, Probability: e.Probability})
	}
	if len(out) == 0 {
		return nil, errors.New("manifest names no known animals")
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
