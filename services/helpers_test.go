package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wildlife-challenge-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	// A single connection keeps every goroutine on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func seedAnimals(t *testing.T, db *gorm.DB, names ...string) {
	t.Helper()
	for i, name := range names {
		require.NoError(t, db.Create(&models.Animal{
			ID:         uuid.NewString(),
			ExternalID: fmt.Sprintf("ext-%d", i),
			Name:       name,
			Active:     true,
		}).Error)
	}
}

type staticCatalog []string

func (c staticCatalog) ListAllAnimalNames(context.Context) ([]string, error) { return c, nil }

// fakeGenerator returns a fixed manifest and counts calls.
type fakeGenerator struct {
	mu      sync.Mutex
	entries []models.ManifestEntry
	err     error
	calls   atomic.Int32
	labels  []string
	// gate, when set, blocks every call until it is closed.
	gate chan struct{}
}

func (g *fakeGenerator) SuggestProbabilities(ctx context.Context, label string, _ []string) ([]models.ManifestEntry, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.labels = append(g.labels, label)
	g.mu.Unlock()
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	out := make([]models.ManifestEntry, len(g.entries))
	copy(out, g.entries)
	return out, nil
}

type recordingArchiver struct {
	mu       sync.Mutex
	archived []string
	fail     bool
}

func (a *recordingArchiver) ArchiveManifest(_ context.Context, m *models.RegionManifest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("bucket unavailable")
	}
	a.archived = append(a.archived, m.RegionKey)
	return nil
}

var austinAnimals = []models.ManifestEntry{
	{Name: "White-tailed Deer", Probability: 85},
	{Name: "Northern Cardinal", Probability: 90},
	{Name: "Eastern Gray Squirrel", Probability: 95},
	{Name: "Nine-banded Armadillo", Probability: 40},
	{Name: "Mexican Free-tailed Bat", Probability: 60},
	{Name: "Golden-cheeked Warbler", Probability: 5},
	{Name: "Bobcat", Probability: 8},
	{Name: "Texas Spiny Lizard", Probability: 30},
}

func austinCatalog() staticCatalog {
	names := make([]string, 0, len(austinAnimals))
	for _, a := range austinAnimals {
		names = append(names, a.Name)
	}
	return names
}

func austinRegion(t *testing.T) Region {
	t.Helper()
	r, err := NewRegionKeyer(DefaultCellDegrees, nil, nil).KeyFor(30.27, -97.74)
	require.NoError(t, err)
	return r
}
