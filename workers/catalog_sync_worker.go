// workers/catalog_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteAnimal matches the JSON returned by the catalog service.
type RemoteAnimal struct {
	ExternalID     string    `json:"id"`
	Name           string    `json:"name"`
	ScientificName *string   `json:"scientific_name,omitempty"`
	Category       string    `json:"category"`
	Active         *bool     `json:"active,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GetAnimalChangesResponse is the top-level structure of the catalog response.
type GetAnimalChangesResponse struct {
	Animals []RemoteAnimal `json:"animals"`
}

// AnimalCatalogSyncWorker mirrors the catalog service's animals into the local
// animals table, which feeds manifest generation.
type AnimalCatalogSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string // e.g., "http://catalog:8500"
	endpointPath string // e.g., "/api/v1/public/animals"
	serviceToken string
	httpClient   *http.Client
	log          *logger.Logger
	done         chan struct{}
}

func NewAnimalCatalogSyncWorker(db *gorm.DB, baseURL, serviceToken string, interval time.Duration, log *logger.Logger) *AnimalCatalogSyncWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AnimalCatalogSyncWorker{
		db:           db,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: "/api/v1/public/animals",
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:  log,
		done: make(chan struct{}),
	}
}

// Start runs the sync loop until ctx is cancelled.
func (w *AnimalCatalogSyncWorker) Start(ctx context.Context) {
	w.log.Info("🔁 Starting Animal Catalog Sync Worker (catalog-service → animals)…")
	go w.run(ctx)
}

// Done is closed once the loop has exited.
func (w *AnimalCatalogSyncWorker) Done() <-chan struct{} { return w.done }

func (w *AnimalCatalogSyncWorker) run(ctx context.Context) {
	defer close(w.done)

	// Initial sync (backfill if needed) - sync from the beginning of time
	if _, err := w.SyncOnce(ctx, time.Time{}); err != nil {
		w.log.Warn("⚠️ Initial catalog sync failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx, w.lastSyncTime(ctx)); err != nil {
				w.log.Error("❌ Catalog sync batch failed", "error", err)
			}
		case <-ctx.Done():
			w.log.Info("⏹️ Animal Catalog Sync Worker stopped")
			return
		}
	}
}

// lastSyncTime is the newest UpdatedAt in the local mirror.
func (w *AnimalCatalogSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var latest models.Animal
	err := w.db.WithContext(ctx).Order("updated_at DESC").First(&latest).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			w.log.Warn("[SYNC] reading last catalog sync time failed", "error", err)
		}
		return time.Unix(0, 0)
	}
	return latest.UpdatedAt
}

// SyncOnce pulls animals changed since the given time and upserts them.
// It returns how many rows were written.
func (w *AnimalCatalogSyncWorker) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid catalog service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	w.log.Debug("[SYNC] ➡️ GET", "url", finalURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request to catalog service failed: %w", err)
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("catalog service non-200 response: %d — %s", resp.StatusCode, string(body))
	}

	var response GetAnimalChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode catalog service response: %w", err)
	}
	if len(response.Animals) == 0 {
		w.log.Debug("[SYNC] ✅ No animal changes", "since", sinceStr)
		return 0, nil
	}

	var upserted, failed int
	for _, remote := range response.Animals {
		if remote.ExternalID == "" || remote.Name == "" {
			failed++
			continue
		}
		active := true
		if remote.Active != nil {
			active = *remote.Active
		}
		local := models.Animal{
			ID:             uuid.NewString(),
			ExternalID:     remote.ExternalID,
			Name:           remote.Name,
			ScientificName: remote.ScientificName,
			Category:       remote.Category,
			Active:         active,
			CreatedAt:      remote.CreatedAt,
			UpdatedAt:      remote.UpdatedAt,
		}

		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "scientific_name", "category", "active", "updated_at",
			}),
		}).Create(&local).Error
		if err != nil {
			failed++
			w.log.Warn("[SYNC] ⚠️ Failed to upsert animal", "external_id", remote.ExternalID, "name", remote.Name, "error", err)
			continue
		}
		upserted++
	}

	w.log.Info("[SYNC] ✅ Synced animals", "received", len(response.Animals), "upserted", upserted, "errors", failed)
	return upserted, nil
}
