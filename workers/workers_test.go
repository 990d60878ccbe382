package workers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"wildlife-challenge-system/models"
	"wildlife-challenge-system/services"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// database/sql keeps a connection opener goroutine per *sql.DB
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Animal{}))
	return db
}

func TestCatalogSync_UpsertsAnimals(t *testing.T) {
	db := setupDB(t)
	w := NewAnimalCatalogSyncWorker(db, "https://catalog.test", "svc-token", time.Hour, nil)
	httpmock.ActivateNonDefault(w.httpClient)
	defer httpmock.DeactivateAndReset()

	updated := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	inactive := false
	httpmock.RegisterResponder(http.MethodGet, "https://catalog.test/api/v1/public/animals",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "svc-token", req.Header.Get("X-Service-Token"))
			assert.NotEmpty(t, req.URL.Query().Get("since"))
			return httpmock.NewJsonResponse(http.StatusOK, GetAnimalChangesResponse{Animals: []RemoteAnimal{
				{ExternalID: "a1", Name: "Bobcat", Category: "mammal", UpdatedAt: updated},
				{ExternalID: "a2", Name: "Northern Cardinal", Category: "bird", UpdatedAt: updated},
				{ExternalID: "a3", Name: "Passenger Pigeon", Category: "bird", Active: &inactive, UpdatedAt: updated},
				{ExternalID: "", Name: "Broken"},
			}})
		})

	n, err := w.SyncOnce(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	names, err := services.NewCatalogService(db).ListAllAnimalNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Bobcat", "Northern Cardinal"}, names)

	// A rename upstream updates the existing row.
	httpmock.RegisterResponder(http.MethodGet, "https://catalog.test/api/v1/public/animals",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, GetAnimalChangesResponse{Animals: []RemoteAnimal{
			{ExternalID: "a1", Name: "Bobcat (Lynx rufus)", Category: "mammal", UpdatedAt: updated.Add(time.Hour)},
		}}))
	_, err = w.SyncOnce(context.Background(), w.lastSyncTime(context.Background()))
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Animal{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
	assert.True(t, w.lastSyncTime(context.Background()).Equal(updated.Add(time.Hour)))
}

func TestCatalogSync_Non200(t *testing.T) {
	db := setupDB(t)
	w := NewAnimalCatalogSyncWorker(db, "https://catalog.test", "svc-token", time.Hour, nil)
	httpmock.ActivateNonDefault(w.httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://catalog.test/api/v1/public/animals",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := w.SyncOnce(context.Background(), time.Time{})
	assert.ErrorContains(t, err, "500")
}

func TestCatalogSync_StartStops(t *testing.T) {
	db := setupDB(t)
	w := NewAnimalCatalogSyncWorker(db, "https://catalog.test", "svc-token", 10*time.Millisecond, nil)
	httpmock.ActivateNonDefault(w.httpClient)
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodGet, "https://catalog.test/api/v1/public/animals",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, GetAnimalChangesResponse{}))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	require.Eventually(t, func() bool { return httpmock.GetTotalCallCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

type recordingSink struct {
	mu      sync.Mutex
	applied []services.Sighting
	failOn  string
}

func (s *recordingSink) OnSightingConfirmed(_ context.Context, sighting services.Sighting) ([]services.ChallengeTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sighting.SightingID == s.failOn {
		return nil, errors.New("db down")
	}
	if sighting.AnimalName == "" {
		return nil, fmt.Errorf("%w: no animal name", services.ErrInvalidSighting)
	}
	s.applied = append(s.applied, sighting)
	return []services.ChallengeTransition{{Kind: models.ChallengeDaily, JustCompleted: true}}, nil
}

func TestSightingPoller_PollOnce(t *testing.T) {
	sink := &recordingSink{}
	p := NewSightingFeedPoller("https://sightings.test/", "svc-token", sink, time.Hour, nil)
	httpmock.ActivateNonDefault(p.HTTPClient)
	defer httpmock.DeactivateAndReset()

	confirmed := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	httpmock.RegisterResponder(http.MethodGet, "https://sightings.test/api/v1/public/sightings/confirmed",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{
			"sightings": []remoteSighting{
				{ID: "s1", UserID: "u1", AnimalName: "Bobcat", ConfirmedAt: confirmed},
				{ID: "s2", UserID: "u2", AnimalName: "Northern Cardinal", ConfirmedAt: confirmed},
			},
		}))

	since := time.Now().Add(-time.Hour)
	next := p.PollOnce(context.Background(), since)
	assert.True(t, next.After(since))
	require.Len(t, sink.applied, 2)
	assert.Equal(t, "s1", sink.applied[0].SightingID)
	assert.Equal(t, "Bobcat", sink.applied[0].AnimalName)
	assert.True(t, sink.applied[0].ConfirmedAt.Equal(confirmed))
}

func TestSightingPoller_FailureKeepsMarker(t *testing.T) {
	sink := &recordingSink{failOn: "s2"}
	p := NewSightingFeedPoller("https://sightings.test", "svc-token", sink, time.Hour, nil)
	httpmock.ActivateNonDefault(p.HTTPClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://sightings.test/api/v1/public/sightings/confirmed",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{
			"sightings": []remoteSighting{{ID: "s1", UserID: "u1", AnimalName: "Bobcat"}, {ID: "s2", UserID: "u1", AnimalName: "Bobcat"}},
		}))

	since := time.Now().Add(-time.Hour)
	assert.Equal(t, since, p.PollOnce(context.Background(), since))

	httpmock.RegisterResponder(http.MethodGet, "https://sightings.test/api/v1/public/sightings/confirmed",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream"))
	assert.Equal(t, since, p.PollOnce(context.Background(), since))
}

func TestSightingPoller_SkipsInvalidSightings(t *testing.T) {
	sink := &recordingSink{}
	p := NewSightingFeedPoller("https://sightings.test", "svc-token", sink, time.Hour, nil)
	httpmock.ActivateNonDefault(p.HTTPClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://sightings.test/api/v1/public/sightings/confirmed",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{
			"sightings": []remoteSighting{
				{ID: "bad", UserID: "u1", AnimalName: ""},
				{ID: "good", UserID: "u1", AnimalName: "Bobcat"},
			},
		}))

	since := time.Now().Add(-time.Hour)
	next := p.PollOnce(context.Background(), since)
	assert.True(t, next.After(since))
	require.Len(t, sink.applied, 1)
	assert.Equal(t, "good", sink.applied[0].SightingID)
}

func TestSightingPoller_StartStops(t *testing.T) {
	p := NewSightingFeedPoller("https://sightings.test", "svc-token", &recordingSink{}, 10*time.Millisecond, nil)
	httpmock.ActivateNonDefault(p.HTTPClient)
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodGet, "https://sightings.test/api/v1/public/sightings/confirmed",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{"sightings": []interface{}{}}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, func() bool { return httpmock.GetTotalCallCount() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
