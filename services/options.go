package services

import (
	"math/rand/v2"
	"time"

	"wildlife-challenge-system/logger"
	"wildlife-challenge-system/metrics"
	"wildlife-challenge-system/models"
)

// ManifestStoreOption configures a ManifestStore.
type ManifestStoreOption func(*ManifestStore)

// WithGenerationTimeout bounds a single generator call.
func WithGenerationTimeout(d time.Duration) ManifestStoreOption {
	return func(s *ManifestStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithArchiver snapshots manifests before they are deleted or replaced.
func WithArchiver(a ManifestArchiver) ManifestStoreOption {
	return func(s *ManifestStore) { s.archiver = a }
}

// WithManifestCacheTTL sets how long manifests are kept in the in-process cache.
func WithManifestCacheTTL(d time.Duration) ManifestStoreOption {
	return func(s *ManifestStore) {
		if d > 0 {
			s.cacheTTL = d
		}
	}
}

// WithManifestMetrics records generation outcomes and cache hits.
func WithManifestMetrics(m *metrics.Manager) ManifestStoreOption {
	return func(s *ManifestStore) { s.metrics = m }
}

// WithManifestLogger replaces the no-op logger.
func WithManifestLogger(l *logger.Logger) ManifestStoreOption {
	return func(s *ManifestStore) {
		if l != nil {
			s.log = l
		}
	}
}

// ChallengeStoreOption configures a UserChallengeStore.
type ChallengeStoreOption func(*UserChallengeStore)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) ChallengeStoreOption {
	return func(s *UserChallengeStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSeed makes every draw use the same seed so sampling is reproducible.
func WithSeed(seed uint64) ChallengeStoreOption {
	return func(s *UserChallengeStore) {
		s.seed = func(string, models.ChallengeKind) *rand.Rand {
			return rand.New(rand.NewPCG(seed, seed))
		}
	}
}

// WithXPWeights sets the per-kind XP multipliers.
func WithXPWeights(daily, weekly float64) ChallengeStoreOption {
	return func(s *UserChallengeStore) {
		if daily > 0 {
			s.dailyWeight = daily
		}
		if weekly > 0 {
			s.weeklyWeight = weekly
		}
	}
}

// WithChallengeMetrics counts refreshed sections.
func WithChallengeMetrics(m *metrics.Manager) ChallengeStoreOption {
	return func(s *UserChallengeStore) { s.metrics = m }
}

// WithChallengeLogger replaces the no-op logger.
func WithChallengeLogger(l *logger.Logger) ChallengeStoreOption {
	return func(s *UserChallengeStore) {
		if l != nil {
			s.log = l
		}
	}
}

// ProgressTrackerOption configures a ProgressTracker.
type ProgressTrackerOption func(*ProgressTracker)

// WithBadgeChecker re-evaluates badges after each applied sighting.
func WithBadgeChecker(b BadgeChecker) ProgressTrackerOption {
	return func(t *ProgressTracker) { t.badges = b }
}

// WithPublisher sends challenge events after commit.
func WithPublisher(p ChallengeEventPublisher) ProgressTrackerOption {
	return func(t *ProgressTracker) {
		if p != nil {
			t.publisher = p
		}
	}
}

// WithTrackerClock replaces time.Now when deciding which sections are live.
func WithTrackerClock(now func() time.Time) ProgressTrackerOption {
	return func(t *ProgressTracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTrackerMetrics records increments, completions and duplicates.
func WithTrackerMetrics(m *metrics.Manager) ProgressTrackerOption {
	return func(t *ProgressTracker) { t.metrics = m }
}

// WithTrackerLogger replaces the no-op logger.
func WithTrackerLogger(l *logger.Logger) ProgressTrackerOption {
	return func(t *ProgressTracker) {
		if l != nil {
			t.log = l
		}
	}
}
