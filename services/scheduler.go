// services/scheduler.go
package services

import (
	"context"
	"time"

	"wildlife-challenge-system/logger"

	"github.com/go-co-op/gocron/v2"
)

// MaintenanceScheduler runs the periodic housekeeping jobs.
type MaintenanceScheduler struct {
	sched     gocron.Scheduler
	tracker   *ProgressTracker
	manifests *ManifestStore
	retention time.Duration
	log       *logger.Logger
}

func NewMaintenanceScheduler(tracker *ProgressTracker, manifests *ManifestStore, retention time.Duration, log *logger.Logger) (*MaintenanceScheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MaintenanceScheduler{sched: sched, tracker: tracker, manifests: manifests, retention: retention, log: log}, nil
}

// Start registers the jobs and starts the scheduler.
func (m *MaintenanceScheduler) Start() error {
	// Every hour: drop processed sightings past retention
	if m.retention > 0 {
		_, err := m.sched.NewJob(
			gocron.DurationJob(1*time.Hour),
			gocron.NewTask(m.pruneLedger),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
	}

	// Every 5 minutes: refresh the stored-manifests gauge
	_, err := m.sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(m.countManifests),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}

	m.sched.Start()
	return nil
}

func (m *MaintenanceScheduler) Shutdown() error {
	return m.sched.Shutdown()
}

func (m *MaintenanceScheduler) pruneLedger() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := m.tracker.PruneLedger(ctx, time.Now().Add(-m.retention))
	if err != nil {
		m.log.Error("[Scheduler] ledger prune failed", "error", err)
		return
	}
	if n > 0 {
		m.log.Info("[Scheduler] 🧹 pruned processed sightings", "count", n)
	}
}

func (m *MaintenanceScheduler) countManifests() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := m.manifests.Count(ctx); err != nil {
		m.log.Error("[Scheduler] manifest count failed", "error", err)
	}
}
