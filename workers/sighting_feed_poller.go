// workers/sighting_feed_poller.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/services"
)

// SightingSink applies a confirmed sighting to challenge progress.
type SightingSink interface {
	OnSightingConfirmed(ctx context.Context, s services.Sighting) ([]services.ChallengeTransition, error)
}

type remoteSighting struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	AnimalName  string    `json:"animal_name"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// SightingFeedPoller pulls confirmed sightings from the sighting service.
// Replays are harmless: the tracker ignores sighting ids it has seen.
type SightingFeedPoller struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	sink     SightingSink
	interval time.Duration
	lookback time.Duration
	log      *logger.Logger
	done     chan struct{}
}

func NewSightingFeedPoller(baseURL, token string, sink SightingSink, interval time.Duration, log *logger.Logger) *SightingFeedPoller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SightingFeedPoller{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		sink:       sink,
		interval:   interval,
		lookback:   24 * time.Hour,
		log:        log,
		done:       make(chan struct{}),
	}
}

// GetConfirmedSightings fetches sightings confirmed since the given time.
func (p *SightingFeedPoller) GetConfirmedSightings(ctx context.Context, since time.Time) ([]remoteSighting, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/sightings/confirmed", p.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", p.Token)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sighting service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sighting service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Sightings []remoteSighting `json:"sightings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sighting service response: %w", err)
	}
	return response.Sightings, nil
}

// Start polls until ctx is cancelled.
func (p *SightingFeedPoller) Start(ctx context.Context) {
	p.log.Info("Starting sighting feed polling...", "interval", p.interval)
	go p.run(ctx)
}

// Done is closed once the loop has exited.
func (p *SightingFeedPoller) Done() <-chan struct{} { return p.done }

func (p *SightingFeedPoller) run(ctx context.Context) {
	defer close(p.done)
	lastSyncTime := time.Now().UTC().Add(-p.lookback)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Sighting feed polling stopped.")
			return
		case <-ticker.C:
			lastSyncTime = p.PollOnce(ctx, lastSyncTime)
		}
	}
}

// PollOnce applies one page of sightings and returns the next since marker.
// Sightings the tracker rejects as invalid are logged and skipped. Any other
// failure keeps the marker so the page is retried on the next tick.
func (p *SightingFeedPoller) PollOnce(ctx context.Context, since time.Time) time.Time {
	pollTime := time.Now().UTC()

	sightings, err := p.GetConfirmedSightings(ctx, since)
	if err != nil {
		p.log.Error("❌ Error polling sightings", "error", err)
		return since
	}
	if len(sightings) == 0 {
		return pollTime
	}

	var applied, skipped, completed int
	for _, s := range sightings {
		transitions, err := p.sink.OnSightingConfirmed(ctx, services.Sighting{
			UserID:      s.UserID,
			AnimalName:  s.AnimalName,
			ConfirmedAt: s.ConfirmedAt,
			SightingID:  s.ID,
		})
		if errors.Is(err, services.ErrInvalidSighting) {
			skipped++
			p.log.Warn("⚠️ Skipping invalid sighting", "sighting_id", s.ID, "user_id", s.UserID, "error", err)
			continue
		}
		if err != nil {
			p.log.Error("❌ Failed to apply sighting", "sighting_id", s.ID, "user_id", s.UserID, "error", err)
			return since
		}
		applied++
		for _, tr := range transitions {
			if tr.JustCompleted {
				completed++
			}
		}
	}

	p.log.Info("✅ Applied confirmed sightings", "count", applied, "skipped", skipped, "completed_sections", completed)
	return pollTime
}
